package agent

import (
	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/model"
)

// Window returns the last n conversational messages of history. Error and
// system diagnostics are dropped before counting. n <= 0 keeps everything.
func Window(history []core.Message, n int) []core.Message {
	out := make([]core.Message, 0, len(history))
	for _, msg := range history {
		if msg.IsConversational() {
			out = append(out, msg)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}

	return out
}

// BuildHistory converts the last window messages into model input for the
// persona named speaker. The speaker's own turns become assistant messages;
// everybody else's become user messages prefixed with the author's name so
// the model can tell participants apart.
func BuildHistory(history []core.Message, speaker string, window int) []model.Message {
	msgs := Window(history, window)
	out := make([]model.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Kind == core.MessageAgent && msg.AuthorName == speaker {
			out = append(out, model.Message{Role: model.RoleAssistant, Content: msg.Text})
			continue
		}
		out = append(out, model.Message{Role: model.RoleUser, Content: msg.AuthorName + ": " + msg.Text})
	}

	return out
}
