package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/barunsh91/mychatbot/pkg/conversation"
	"github.com/barunsh91/mychatbot/pkg/documents"
	"github.com/barunsh91/mychatbot/pkg/events"
	"github.com/barunsh91/mychatbot/pkg/gemini/api"
	"github.com/barunsh91/mychatbot/pkg/session"
)

const eventTopic = "chat"

var rootCmd = &cobra.Command{
	Use:   "mychatbot",
	Short: "Chat with a Gemini model from the terminal, optionally over an attached PDF",
	RunE:  runChat,
}

func init() {
	rootCmd.PersistentFlags().String("api-key", "", "API key for the generative language API")
	rootCmd.PersistentFlags().String("base-url", api.DefaultBaseURL, "Base URL of the generative language API")
	rootCmd.PersistentFlags().String("model", api.DefaultModel, "Model to chat with")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose event router logging")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}

	viper.SetEnvPrefix("MYCHATBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".mychatbot"))
	}
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
}

func setupLogging(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(parsed)

	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrap(err, "failed to read config file")
		}
	}

	if err := setupLogging(viper.GetString("log-level")); err != nil {
		return err
	}

	apiKey := viper.GetString("api-key")
	if apiKey == "" {
		return errors.New("no API key configured (flag --api-key, env MYCHATBOT_API_KEY, or config file)")
	}

	model := viper.GetString("model")
	client := api.NewClient(apiKey,
		api.WithBaseURL(viper.GetString("base-url")),
		api.WithModel(model),
	)

	router, err := events.NewEventRouter(events.WithVerbose(viper.GetBool("verbose")))
	if err != nil {
		return errors.Wrap(err, "failed to create event router")
	}
	defer func() {
		_ = router.Close()
	}()

	router.AddHandler("cli-printer", eventTopic, events.StepPrinterFunc("assistant", os.Stdout))

	manager := conversation.NewManager()
	controller := session.NewController(manager, client,
		session.WithExtractor(documents.NewPDFExtractor()),
		session.WithSink(events.NewWatermillSink(router.Publisher, eventTopic)),
		session.WithModel(model),
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()
		return chatLoop(ctx, manager, controller, os.Stdin, os.Stdout)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func chatLoop(ctx context.Context, manager conversation.Manager, controller *session.Controller, r io.Reader, w io.Writer) error {
	fmt.Fprintln(w, "Type a message and press enter. Commands: /attach <file.pdf>, /history, /save <file>, /quit")

	var staged *session.Attachment
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if staged != nil {
			fmt.Fprintf(w, "you (+%s)> ", staged.Name)
		} else {
			fmt.Fprint(w, "you> ")
		}

		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "/quit":
			return nil

		case strings.HasPrefix(line, "/attach "):
			attachment, err := loadAttachment(strings.TrimSpace(strings.TrimPrefix(line, "/attach ")))
			if err != nil {
				fmt.Fprintf(w, "could not attach: %v\n", err)
				continue
			}
			staged = attachment
			fmt.Fprintf(w, "attached %s, it will be sent with your next message\n", staged.Name)

		case line == "/history":
			b, err := yaml.Marshal(manager.GetConversation())
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(b))

		case strings.HasPrefix(line, "/save "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/save "))
			if err := manager.SaveToFile(path); err != nil {
				fmt.Fprintf(w, "could not save: %v\n", err)
				continue
			}
			fmt.Fprintf(w, "saved conversation to %s\n", path)

		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(w, "unknown command %s\n", line)

		default:
			err := controller.Submit(ctx, line, staged)
			attachmentErr := &session.AttachmentError{}
			switch {
			case err == nil:
				staged = nil
			case errors.Is(err, session.ErrEmptySubmission):
				fmt.Fprintln(w, "nothing to send")
			case errors.As(err, &attachmentErr):
				// extraction failures never reach the event stream, so they are
				// reported here; the attachment stays staged for a retry
				fmt.Fprintf(w, "could not read %s: %v\n", attachmentErr.Name, err)
			default:
				// transport and stream errors are rendered by the event printer;
				// the extracted document text is already part of the appended
				// user message, so the attachment is not re-sent on retry
				staged = nil
			}
		}
	}
}

func loadAttachment(path string) (*session.Attachment, error) {
	if path == "" {
		return nil, errors.New("no file given")
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	mimeType := "application/octet-stream"
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		mimeType = "application/pdf"
	}

	return &session.Attachment{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Payload:  payload,
	}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
