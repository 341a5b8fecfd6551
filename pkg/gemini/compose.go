package gemini

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/barunsh91/mychatbot/pkg/conversation"
	"github.com/barunsh91/mychatbot/pkg/gemini/api"
)

// BuildGenerateRequest projects the prior conversation plus the new user text
// into the wire payload. It is a pure function: no side effects, deterministic
// given its inputs.
//
// prior must be the snapshot taken before the new user message was appended to
// the store; the new text is added as the final entry here, so passing a
// post-append snapshot would double-count it.
func BuildGenerateRequest(prior conversation.Conversation, newUserText string) (*api.GenerateRequest, error) {
	contents := make([]api.Content, 0, len(prior)+1)

	for _, msg := range prior {
		role, err := wireRole(msg.Role)
		if err != nil {
			return nil, err
		}
		contents = append(contents, api.Content{
			Role:  role,
			Parts: []api.Part{{Text: msg.Text}},
		})
	}

	contents = append(contents, api.Content{
		Role:  api.RoleUser,
		Parts: []api.Part{{Text: newUserText}},
	})

	return &api.GenerateRequest{Contents: contents}, nil
}

// wireRole maps conversation roles onto the two wire roles. The API has no
// system role, so system messages are sent as user content.
func wireRole(role conversation.Role) (api.Role, error) {
	switch role {
	case conversation.RoleUser, conversation.RoleSystem:
		return api.RoleUser, nil
	case conversation.RoleAssistant:
		return api.RoleModel, nil
	default:
		return "", errors.Errorf("cannot map role %q to a wire role", role)
	}
}

// FormatUserText combines the typed text with extracted document text. When a
// document is attached, its text follows a separator line naming the source so
// the model can tell the two apart.
func FormatUserText(typed string, sourceName string, extracted string) string {
	if extracted == "" {
		return typed
	}

	section := fmt.Sprintf("--- content of %s ---", sourceName)

	typed = strings.TrimRight(typed, "\n")
	if typed == "" {
		return section + "\n" + extracted
	}

	return typed + "\n\n" + section + "\n" + extracted
}
