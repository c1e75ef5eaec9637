package injection

import "regexp"

type Rule struct {
	Name     string
	Regex    *regexp.Regexp
	Severity float64 // 0.0 to 1.0
	Category string
}

const (
	categoryInstructionBypass = "instruction_bypass"
	categoryRoleOverride      = "role_override"
	categoryEncodingTrick     = "encoding_trick"
	categoryOutputSteering    = "output_steering"
	categoryVoteSteering      = "vote_steering"
	categoryPromptLeak        = "prompt_leak"
)

func DefaultRules() []Rule {
	return []Rule{
		{"ignore_previous", regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`), 0.95, categoryInstructionBypass},
		{"disregard_prior", regexp.MustCompile(`(?i)disregard\s+(all\s+)?(prior|previous)\s+(instructions|context|rules)`), 0.95, categoryInstructionBypass},
		{"ignore_bot_instructions", regexp.MustCompile(`(?i)ignore\s+(the\s+|your\s+)?bot\s+instructions`), 0.9, categoryInstructionBypass},
		{"jailbreak", regexp.MustCompile(`(?i)(\bDAN\b|do\s+anything\s+now|jailbreak|unrestricted\s+mode)`), 0.9, categoryRoleOverride},
		{"code_block_system", regexp.MustCompile("(?i)```system"), 0.9, categoryRoleOverride},
		{"system_prefix", regexp.MustCompile(`(?i)^\s*system\s*:\s*`), 0.85, categoryRoleOverride},
		{"developer_mode", regexp.MustCompile(`(?i)(developer|debug|admin|root)\s+mode\s+(enabled|activated|on)`), 0.85, categoryRoleOverride},
		{"base64_instruction", regexp.MustCompile(`(?i)(decode|execute|follow)\s+(the\s+)?base64`), 0.85, categoryEncodingTrick},
		{"reveal_prompt", regexp.MustCompile(`(?i)(reveal|print|show|repeat)\s+(me\s+)?(your|the)\s+(system\s+prompt|hidden\s+instructions|bot\s+instructions)`), 0.8, categoryPromptLeak},
		{"new_instructions", regexp.MustCompile(`(?i)(new|updated|revised)\s+instructions?\s*:`), 0.8, categoryInstructionBypass},
		{"evaluator_steering", regexp.MustCompile(`(?i)(evaluators?|judges?|graders?)\s*(must|should|:)\s*(vote|choose|pick|select)`), 0.8, categoryVoteSteering},
		{"response_prefix", regexp.MustCompile(`(?i)respond\s+with\s*:\s*(sure|absolutely|of course)`), 0.75, categoryOutputSteering},
		{"you_are_now", regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\s+`), 0.7, categoryRoleOverride},
	}
}
