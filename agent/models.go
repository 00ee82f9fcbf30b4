package agent

// Slash commands the engine invokes. The templates live in the AI
// CLI's command directory; these names are the contract.
const (
	SlashClassifyIssue  = "/classify_issue"
	SlashGenerateBranch = "/generate_branch_name"
	SlashPlanBug        = "/bug"
	SlashPlanFeature    = "/feature"
	SlashPlanChore      = "/chore"
	SlashImplement      = "/implement"
	SlashTest           = "/test"
	SlashResolveTests   = "/resolve_failed_tests"
	SlashReview         = "/review"
	SlashDocument       = "/document"
	SlashPatch          = "/patch"
)

// Model aliases understood by the CLI.
const (
	modelFast  = "sonnet"
	modelHeavy = "opus"
)

// modelTable binds (slash command, model set) to a model. Commands
// absent from a set fall back to the set default.
var modelTable = map[string]map[string]string{
	"base": {
		SlashClassifyIssue:  modelFast,
		SlashGenerateBranch: modelFast,
		SlashPlanBug:        modelFast,
		SlashPlanFeature:    modelFast,
		SlashPlanChore:      modelFast,
		SlashImplement:      modelFast,
		SlashTest:           modelFast,
		SlashResolveTests:   modelFast,
		SlashReview:         modelFast,
		SlashDocument:       modelFast,
		SlashPatch:          modelFast,
	},
	"heavy": {
		// Cheap structured lookups stay on the fast model even in the
		// heavy set; reasoning-bound commands move up.
		SlashClassifyIssue:  modelFast,
		SlashGenerateBranch: modelFast,
		SlashPlanBug:        modelHeavy,
		SlashPlanFeature:    modelHeavy,
		SlashPlanChore:      modelHeavy,
		SlashImplement:      modelHeavy,
		SlashTest:           modelFast,
		SlashResolveTests:   modelHeavy,
		SlashReview:         modelHeavy,
		SlashDocument:       modelFast,
		SlashPatch:          modelHeavy,
	},
}

// ModelFor resolves the model for a request: explicit override first,
// then the table, then the fast model.
func ModelFor(slashCommand, modelSet, override string) string {
	if override != "" {
		return override
	}
	set, ok := modelTable[modelSet]
	if !ok {
		set = modelTable["base"]
	}
	if m, ok := set[slashCommand]; ok {
		return m
	}
	return modelFast
}

// PlanCommandFor maps an issue class to its planning slash command.
func PlanCommandFor(issueClass string) string {
	switch issueClass {
	case "bug":
		return SlashPlanBug
	case "chore":
		return SlashPlanChore
	default:
		return SlashPlanFeature
	}
}
