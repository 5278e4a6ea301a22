package engine

import (
	"text/template"

	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/internal/util"
)

// NoSpeaker is the reply the orchestrator is told to give when nobody
// should speak. Any other non-matching reply has the same effect.
const NoSpeaker = "NONE"

const metaPromptText = `{{trim .Instructions}}

Participants:
{{range .Members}}- {{.DisplayName}}
{{end}}
Participant personas:
{{range .Members}}
<<{{.DisplayName}}>>
{{if .Description}}{{.Description}}
{{end}}{{trim .SystemPrompt}}
<</{{.DisplayName}}>>
{{end}}
Recent conversation:
{{range .History}}{{.AuthorName}}: {{.Text}}
{{else}}(no messages yet)
{{end}}
Who should speak next? Answer with exactly one participant name from the list above and nothing else.
If nobody should speak, answer {{.NoSpeaker}}.`

var metaPrompt = template.Must(util.ParseTemplate("meta-prompt", metaPromptText))

type metaPromptData struct {
	Instructions string
	Members      []core.Agent
	History      []core.Message
	NoSpeaker    string
}

// renderMetaPrompt builds the selection prompt from the orchestrator's role
// instructions, the member personas and the already windowed history.
func renderMetaPrompt(orch core.Orchestrator, members []core.Agent, history []core.Message) (string, error) {
	return util.Execute(metaPrompt, metaPromptData{
		Instructions: orch.Prompt(),
		Members:      members,
		History:      history,
		NoSpeaker:    NoSpeaker,
	})
}
