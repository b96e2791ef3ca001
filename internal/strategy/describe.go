package strategy

// Description documents a strategy kind for the CLI
type Description struct {
	Kind     Kind
	Summary  string
	Output   string
	Required []string
	Optional []string
}

var descriptions = []Description{
	{
		Kind:     KindExpand,
		Summary:  "Generate count new samples modelled on each record",
		Output:   "{original, <target_field>} per variant",
		Optional: []string{"count", "source_field", "target_field", "selected_fields", "system_prompt", "template"},
	},
	{
		Kind:     KindAugment,
		Summary:  "Enrich each record with generated fields",
		Output:   "record fields plus generated fields",
		Optional: []string{"target_field", "selected_fields", "system_prompt", "template"},
	},
	{
		Kind:     KindRewrite,
		Summary:  "Paraphrase a text field while keeping its meaning",
		Output:   "record with <target_field> replaced",
		Optional: []string{"source_field", "target_field", "system_prompt", "template"},
	},
	{
		Kind:     KindClassify,
		Summary:  "Assign one label from a fixed set",
		Output:   "record with <target_field> set to the label",
		Required: []string{"label_set"},
		Optional: []string{"target_field", "selected_fields", "system_prompt", "template"},
	},
	{
		Kind:     KindQA,
		Summary:  "Answer the question found in each record",
		Output:   "{<question_field>, <target_field>}",
		Optional: []string{"source_field", "selected_fields", "question_field", "target_field", "question_prompt", "answer_prompt", "template"},
	},
	{
		Kind:     KindCustom,
		Summary:  "Render a user template inline or from a YAML pack",
		Output:   "record with <target_field> set, or merged JSON",
		Required: []string{"template or template_pack+template_name"},
		Optional: []string{"count", "target_field", "merge_json", "system_prompt"},
	},
}

// Describe returns the description of kind
func Describe(kind Kind) (Description, bool) {
	for _, d := range descriptions {
		if d.Kind == kind {
			return d, true
		}
	}
	return Description{}, false
}

// Descriptions lists every strategy kind
func Descriptions() []Description {
	out := make([]Description, len(descriptions))
	copy(out, descriptions)
	return out
}
