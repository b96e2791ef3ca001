package config

// GetDefaultTemplate returns the default prompt template for a strategy kind.
// Templates are rendered with text/template; every strategy supplies the keys
// System, Count, Variant, Sample, Text, Question, Labels, FieldHint,
// QuestionPrompt, AnswerPrompt and Fields.
func GetDefaultTemplate(kind string) string {
	switch kind {
	case StrategyExpand:
		return GetDefaultExpandTemplate()
	case StrategyAugment:
		return GetDefaultAugmentTemplate()
	case StrategyRewrite:
		return GetDefaultRewriteTemplate()
	case StrategyClassify:
		return GetDefaultClassifyTemplate()
	case StrategyQA:
		return GetDefaultQATemplate()
	}
	return ""
}

// GetDefaultExpandTemplate returns the template for generating new samples modelled on a source record
func GetDefaultExpandTemplate() string {
	return `{{if .System}}Core instructions:
{{.System}}

{{end}}Source sample:
{{.Sample}}

Task: using the sample above as a reference, write one new data sample (variation {{.Variant}} of {{.Count}}).
{{.FieldHint}}

Format requirements:
1. Return the new sample only, as a JSON object with the same structure as the source when the source is JSON.
2. The new sample must not repeat the source sample.`
}

// GetDefaultAugmentTemplate returns the template for enriching a record with additional fields
func GetDefaultAugmentTemplate() string {
	return `{{if .System}}Core instructions:
{{.System}}

{{end}}Original data:
{{.Sample}}

Task: enrich the data above.
{{.FieldHint}}

Format requirements:
1. Return a JSON object containing only the fields you add or improve.
2. Keep the original information accurate.`
}

// GetDefaultRewriteTemplate returns the template for paraphrasing a text field
func GetDefaultRewriteTemplate() string {
	return `{{if .System}}Core instructions:
{{.System}}

{{end}}Original text:
{{.Text}}

Task: rewrite the text above so that it keeps its meaning but uses different wording.

Format requirements:
1. Return only the rewritten text.
2. Do not add explanations, numbering or quotes.`
}

// GetDefaultClassifyTemplate returns the template for labelling a record from a fixed label set
func GetDefaultClassifyTemplate() string {
	return `{{if .System}}Core instructions:
{{.System}}

{{end}}Data:
{{.Sample}}

Task: assign exactly one category label to the data above.{{if .Labels}} Allowed labels: {{.Labels}}.{{end}}

Format requirements:
1. Put the final label inside \boxed{}, for example \boxed{label}.
2. Do not output explanations or JSON, only the boxed label.`
}

// GetDefaultQATemplate returns the template for answering a question taken from a record
func GetDefaultQATemplate() string {
	return `{{if .System}}Core instructions:
{{.System}}

{{end}}{{if .QuestionPrompt}}[Question guidance]
{{.QuestionPrompt}}

{{end}}Question:
{{.Question}}

Task: answer the question above.{{if .AnswerPrompt}}

[Answer style]
{{.AnswerPrompt}}{{end}}`
}
