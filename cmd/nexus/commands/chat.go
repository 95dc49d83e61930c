package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/bladealex9848/expert-nexus/internal/app"
	"github.com/bladealex9848/expert-nexus/internal/config"
	"github.com/bladealex9848/expert-nexus/internal/domain"
	"github.com/bladealex9848/expert-nexus/internal/expert"
	"github.com/bladealex9848/expert-nexus/internal/printer"
	"github.com/bladealex9848/expert-nexus/internal/processor"
	"github.com/bladealex9848/expert-nexus/internal/selection"
	"github.com/bladealex9848/expert-nexus/internal/turn"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const localUser = "local"

var (
	chatSession string
	chatDBPath  string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Starts an interactive conversation backed by a local SQLite session.

Commands inside the chat:
  /experts              list experts
  /switch NAME [--drop] switch expert (fuzzy name); --drop discards documents
  /history              show expert changes
  /attach PATH          attach a text file as a document
  /docs                 list attached documents
  /detach NAME          remove a document
  /new                  start a new conversation (documents stay)
  /clean                drop messages and documents
  /quit                 leave`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "cli", "Session name")
	chatCmd.Flags().StringVar(&chatDBPath, "db", "", "SQLite database path (defaults to DB_PATH)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()
	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := config.Load()
	if err != nil {
		return p.Error("Invalid configuration", err.Error(), []string{
			"Set ASSISTANT_GRPC_ADDR to use the assistant service",
			"Set OPENAI_API_KEY to talk to OpenAI directly",
		})
	}
	cfg.Store.Backend = config.StoreSQLite
	if chatDBPath != "" {
		cfg.Store.DBPath = chatDBPath
	}
	if catalogPath != "" {
		cfg.Experts.File = catalogPath
	}

	// Keep the terminal for the conversation.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	nexus, err := app.Build(cfg, app.Options{Logger: logger})
	if err != nil {
		return p.Error("Could not start the chat", err.Error(), nil)
	}
	defer nexus.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	loop := newChatLoop(nexus.Service, turn.Ref{UserID: localUser, SessionID: chatSession, Channel: "cli"}, cmd.InOrStdin(), p)
	return loop.run(ctx)
}

// chatLoop is the REPL over a turn service.
type chatLoop struct {
	svc     *turn.Service
	catalog *expert.Catalog
	ref     turn.Ref
	in      *bufio.Scanner
	p       *printer.Printer
}

func newChatLoop(svc *turn.Service, ref turn.Ref, in io.Reader, p *printer.Printer) *chatLoop {
	return &chatLoop{
		svc:     svc,
		catalog: svc.Orchestrator().Catalog(),
		ref:     ref,
		in:      bufio.NewScanner(in),
		p:       p,
	}
}

func (c *chatLoop) run(ctx context.Context) error {
	sess, err := c.svc.Snapshot(ctx, c.ref)
	if err != nil {
		return c.p.Error("Could not load the session", err.Error(), nil)
	}
	c.p.Step("Hablando con %s. Escribe /quit para salir.\n", c.title(sess.CurrentExpert()))

	for {
		c.p.Info("> ")
		line, ok := c.readLine()
		if !ok {
			return nil
		}
		quit, err := c.handle(ctx, line)
		if err != nil {
			return err
		}
		if quit || ctx.Err() != nil {
			return nil
		}
	}
}

func (c *chatLoop) readLine() (string, bool) {
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

func (c *chatLoop) handle(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		c.submit(ctx, line)
		return false, nil
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/experts":
		for _, d := range c.catalog.Registry.All() {
			c.p.Info("  %-28s %s\n", d.Key, d.Title)
		}
	case "/switch":
		c.switchExpert(ctx, arg)
	case "/history":
		c.history(ctx)
	case "/attach":
		c.attach(ctx, arg)
	case "/docs":
		c.docs(ctx)
	case "/detach":
		if err := c.svc.RemoveDocument(ctx, c.ref, arg); err != nil {
			c.warn(err)
		} else {
			c.p.Success("Documento %s eliminado\n", arg)
		}
	case "/new":
		if _, err := c.svc.NewConversation(ctx, c.ref); err != nil {
			c.warn(err)
		} else {
			c.p.Success("Nueva conversación\n")
		}
	case "/clean":
		if _, err := c.svc.CleanSession(ctx, c.ref); err != nil {
			c.warn(err)
		} else {
			c.p.Success("Sesión limpia\n")
		}
	default:
		c.p.Warning("Comando desconocido %s\n", cmd)
	}
	return false, nil
}

func (c *chatLoop) submit(ctx context.Context, text string) {
	out, err := c.svc.Submit(ctx, c.ref, text)
	if err != nil {
		c.warn(err)
		return
	}
	c.render(ctx, out)
}

func (c *chatLoop) render(ctx context.Context, out turn.Outcome) {
	if out.Suggestion == nil {
		if out.Switch != nil {
			c.p.Step("Cambiado a %s\n", c.title(out.Switch.To))
		}
		if out.Reply != nil {
			c.p.Speaker(out.Expert.Title, out.Reply.Content)
		}
		return
	}

	s := out.Suggestion
	c.p.Warning("Tu consulta parece ser sobre %s. ¿Cambiar desde %s? [s/n] ", s.Suggested.Title, s.Current.Title)
	answer, ok := c.readLine()
	if !ok {
		return
	}
	var choice selection.Choice
	switch strings.ToLower(answer) {
	case "s", "si", "sí", "y", "yes":
		choice = selection.ChoiceUseSuggested
	case "n", "no":
		choice = selection.ChoiceKeepCurrent
	default:
		// Anything else is a new message; the pending suggestion is dropped.
		_, _ = c.handle(ctx, answer)
		return
	}
	next, err := c.svc.Choose(ctx, c.ref, choice)
	if err != nil {
		c.warn(err)
		return
	}
	c.render(ctx, next)
}

func (c *chatLoop) switchExpert(ctx context.Context, arg string) {
	preserve := true
	if strings.HasSuffix(arg, "--drop") {
		preserve = false
		arg = strings.TrimSpace(strings.TrimSuffix(arg, "--drop"))
	}
	d, ok := c.catalog.Registry.Find(arg)
	if !ok {
		c.p.Warning("Ningún experto coincide con %q\n", arg)
		return
	}
	info, err := c.svc.SwitchExpert(ctx, c.ref, d.Key, preserve)
	if err != nil {
		c.warn(err)
		return
	}
	if info.From == info.To {
		c.p.Info("Ya hablas con %s\n", d.Title)
		return
	}
	c.p.Success("Ahora hablas con %s\n", d.Title)
	if info.DocumentsDropped > 0 {
		c.p.Faint("%d documentos descartados\n", info.DocumentsDropped)
	}
}

func (c *chatLoop) history(ctx context.Context) {
	sess, err := c.svc.Snapshot(ctx, c.ref)
	if err != nil {
		c.warn(err)
		return
	}
	for _, e := range sess.Ledger.All() {
		preserved := "sí"
		if !e.ContextPreserved {
			preserved = "no"
		}
		c.p.Info("  %s  %-28s %s (contexto: %s)\n", e.Timestamp, e.ExpertKey, e.Reason, preserved)
	}
}

func (c *chatLoop) attach(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		c.warn(err)
		return
	}
	doc := domain.Document{
		Name:   filepath.Base(path),
		Text:   string(data),
		Format: strings.TrimPrefix(filepath.Ext(path), "."),
	}
	if err := c.svc.AttachDocument(ctx, c.ref, doc); err != nil {
		c.warn(err)
		return
	}
	sum := doc.Summary()
	c.p.Success("Documento %s adjuntado (%d caracteres)\n", sum.Name, sum.Chars)
	if sum.Temporary {
		c.p.Warning("Parece un archivo temporal; no se enviará al asistente\n")
	}
}

func (c *chatLoop) docs(ctx context.Context) {
	sess, err := c.svc.Snapshot(ctx, c.ref)
	if err != nil {
		c.warn(err)
		return
	}
	docs := sess.Conversation.DocumentList()
	if len(docs) == 0 {
		c.p.Info("Sin documentos\n")
		return
	}
	for _, d := range docs {
		s := d.Summary()
		note := ""
		if s.Truncated {
			note = fmt.Sprintf(" (se enviarán %d)", domain.MaxDocumentChars)
		}
		c.p.Info("  %s  %d caracteres%s\n", s.Name, s.Chars, note)
	}
}

func (c *chatLoop) title(key string) string {
	if d, err := c.catalog.Registry.Get(key); err == nil {
		return d.Title
	}
	return key
}

func (c *chatLoop) warn(err error) {
	switch {
	case errors.Is(err, processor.ErrProcessorFailure):
		c.p.Warning("El asistente no respondió. Vuelve a enviar el mensaje.\n")
	case errors.Is(err, expert.ErrUnknownExpert):
		c.p.Warning("Experto desconocido\n")
	case errors.Is(err, turn.ErrDocumentNotFound):
		c.p.Warning("Documento no encontrado\n")
	default:
		c.p.Warning("%v\n", err)
	}
}
