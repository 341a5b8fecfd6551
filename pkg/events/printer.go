package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
)

// StepPrinterFunc returns a watermill handler that renders a streamed
// completion to w: a name header on the first fragment, each delta as it
// arrives, and a trailing newline when the stream finishes.
func StepPrinterFunc(name string, w io.Writer) func(msg *message.Message) error {
	isFirst := true

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		switch p_ := e.(type) {
		case *EventPartialCompletion:
			if isFirst && name != "" {
				isFirst = false
				_, err = fmt.Fprintf(w, "\n%s: \n", name)
				if err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(w, "%s", p_.Delta)
			if err != nil {
				return err
			}

		case *EventFinal:
			isFirst = true
			if !strings.HasSuffix(p_.Text, "\n") {
				_, err = fmt.Fprintf(w, "\n")
				if err != nil {
					return err
				}
			}

		case *EventError:
			isFirst = true
			_, err = fmt.Fprintf(w, "\n[error] %s\n", p_.ErrorString)
			if err != nil {
				return err
			}

		case *EventPartialCompletionStart,
			*EventInterrupt:
		}

		return nil
	}
}
