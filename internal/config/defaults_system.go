package config

// GetDefaultSystemPrompt returns the system message sent alongside the rendered prompt
// when the job does not configure strategy.system_prompt
func GetDefaultSystemPrompt(kind string) string {
	switch kind {
	case StrategyClassify:
		return `You are a careful data annotator. Choose exactly one label from the allowed set and never invent new labels.`
	case StrategyQA:
		return `You are a knowledgeable assistant. Answer questions accurately and completely.`
	case StrategyRewrite:
		return `You are an editor who rewrites text while preserving its meaning, facts and tone.`
	case StrategyExpand, StrategyAugment:
		return `You are a dataset author producing realistic, varied training samples. Follow the requested output format exactly.`
	}
	return ""
}
