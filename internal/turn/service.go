package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bladealex9848/expert-nexus/internal/convlog"
	"github.com/bladealex9848/expert-nexus/internal/domain"
	"github.com/bladealex9848/expert-nexus/internal/selection"
	"github.com/bladealex9848/expert-nexus/internal/session"
	"github.com/bladealex9848/expert-nexus/internal/store"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrTurnInProgress is returned when another operation holds the session.
	ErrTurnInProgress = errors.New("another turn is in progress for this session")
	// ErrDocumentNotFound is returned when removing an unknown document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrInvalidDocument is returned for documents without a name.
	ErrInvalidDocument = errors.New("document name is empty")
)

// Ref identifies a session. The persisted key is "user:session".
type Ref struct {
	UserID    string
	SessionID string
	// Channel labels the conversation log ("http", "ws", "cli").
	Channel string
}

// Key returns the persistence key.
func (r Ref) Key() string {
	if r.SessionID == "" {
		return r.UserID
	}
	return r.UserID + ":" + r.SessionID
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	DefaultExpert string
	ConvLog       convlog.Logger
	Logger        *slog.Logger
}

// Service persists sessions around the orchestrator. Operations on one
// session are serialised; identical concurrent submissions share a result.
type Service struct {
	orch          *Orchestrator
	repo          store.Repository
	defaultExpert string
	convlog       convlog.Logger
	logger        *slog.Logger

	locks sync.Map // session key -> *sync.Mutex
	group singleflight.Group
}

// NewService creates a turn service.
func NewService(orch *Orchestrator, repo store.Repository, cfg ServiceConfig) (*Service, error) {
	if orch == nil || repo == nil {
		return nil, errors.New("turn service requires an orchestrator and a repository")
	}
	if !orch.catalog.Registry.Has(cfg.DefaultExpert) {
		return nil, fmt.Errorf("default expert %q is not registered", cfg.DefaultExpert)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cl := cfg.ConvLog
	if cl == nil {
		cl = convlog.Nop{}
	}
	return &Service{
		orch:          orch,
		repo:          repo,
		defaultExpert: cfg.DefaultExpert,
		convlog:       cl,
		logger:        logger,
	}, nil
}

// Orchestrator returns the wrapped orchestrator.
func (s *Service) Orchestrator() *Orchestrator { return s.orch }

// DefaultExpert returns the expert new sessions start on.
func (s *Service) DefaultExpert() string { return s.defaultExpert }

// Submit runs a turn for a user message.
func (s *Service) Submit(ctx context.Context, ref Ref, text string) (Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{}, ErrEmptyMessage
	}

	// The turn may be shared with duplicate submissions, so it must not end
	// when the first caller goes away. The processor timeout still bounds it.
	turnCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(ref.Key()+"\x00"+text, func() (any, error) {
		var out Outcome
		err := s.withSession(turnCtx, ref, func(sess *session.Session) (bool, error) {
			var err error
			out, err = s.orch.Evaluate(turnCtx, sess, text)
			if err != nil {
				s.logTurnError(ref, sess, text, err)
				return false, err
			}
			s.logOutcome(ref, text, out)
			return true, nil
		})
		return out, err
	})

	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.logger.Debug("collapsed duplicate submission", "session_key", ref.Key())
		}
		if res.Err != nil {
			return Outcome{}, res.Err
		}
		return res.Val.(Outcome), nil
	}
}

// Choose answers the pending suggestion.
func (s *Service) Choose(ctx context.Context, ref Ref, c selection.Choice) (Outcome, error) {
	var out Outcome
	err := s.withSession(ctx, ref, func(sess *session.Session) (bool, error) {
		text := sess.Selection.MessageText
		var err error
		out, err = s.orch.Choose(ctx, sess, c)
		if err != nil {
			if !errors.Is(err, ErrNoPendingChoice) {
				s.logTurnError(ref, sess, text, err)
			}
			return false, err
		}
		s.logOutcome(ref, text, out)
		return true, nil
	})
	return out, err
}

// SwitchExpert changes the expert on user request.
func (s *Service) SwitchExpert(ctx context.Context, ref Ref, key string, preserve bool) (SwitchInfo, error) {
	var info SwitchInfo
	err := s.withSession(ctx, ref, func(sess *session.Session) (bool, error) {
		var err error
		info, err = s.orch.SwitchExpert(sess, key, preserve)
		if err != nil {
			return false, err
		}
		if info.From != info.To {
			s.convlog.Log(convlog.Event{
				UserID: ref.UserID, SessionID: ref.SessionID, Channel: ref.Channel,
				Direction: "internal", EventType: convlog.EventExpertSwitch, Expert: info.To,
				Metadata: map[string]any{"from": info.From, "reason": info.Reason, "preserved": info.ContextPreserved},
			})
		}
		return true, nil
	})
	return info, err
}

// NewConversation restarts the conversation, keeping documents.
func (s *Service) NewConversation(ctx context.Context, ref Ref) (*session.Session, error) {
	return s.reset(ctx, ref, "new_conversation", s.orch.NewConversation)
}

// CleanSession drops messages and documents.
func (s *Service) CleanSession(ctx context.Context, ref Ref) (*session.Session, error) {
	return s.reset(ctx, ref, "clean_session", s.orch.CleanSession)
}

func (s *Service) reset(ctx context.Context, ref Ref, kind string, apply func(*session.Session)) (*session.Session, error) {
	var snap *session.Session
	err := s.withSession(ctx, ref, func(sess *session.Session) (bool, error) {
		apply(sess)
		snap = sess.Clone()
		s.convlog.Log(convlog.Event{
			UserID: ref.UserID, SessionID: ref.SessionID, Channel: ref.Channel,
			Direction: "internal", EventType: convlog.EventSessionReset, Expert: sess.CurrentExpert(),
			Metadata: map[string]any{"kind": kind},
		})
		return true, nil
	})
	return snap, err
}

// AttachDocument stores extracted document text on the session.
func (s *Service) AttachDocument(ctx context.Context, ref Ref, doc domain.Document) error {
	doc.Name = strings.TrimSpace(doc.Name)
	if doc.Name == "" {
		return ErrInvalidDocument
	}
	if doc.AddedAt.IsZero() {
		doc.AddedAt = time.Now()
	}
	return s.withSession(ctx, ref, func(sess *session.Session) (bool, error) {
		sess.Conversation.AttachDocument(doc)
		return true, nil
	})
}

// RemoveDocument drops a document by name.
func (s *Service) RemoveDocument(ctx context.Context, ref Ref, name string) error {
	return s.withSession(ctx, ref, func(sess *session.Session) (bool, error) {
		if !sess.Conversation.RemoveDocument(name) {
			return false, ErrDocumentNotFound
		}
		return true, nil
	})
}

// Snapshot returns a copy of the session, or a fresh unsaved one.
func (s *Service) Snapshot(ctx context.Context, ref Ref) (*session.Session, error) {
	return s.load(ctx, ref)
}

// withSession loads the session under its lock, runs fn, and saves when fn
// asks for it.
func (s *Service) withSession(ctx context.Context, ref Ref, fn func(*session.Session) (bool, error)) error {
	key := ref.Key()
	lock, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		s.logger.Warn("session busy", "session_key", key)
		return ErrTurnInProgress
	}
	defer mutex.Unlock()

	sess, err := s.load(ctx, ref)
	if err != nil {
		return err
	}
	save, err := fn(sess)
	if err != nil {
		return err
	}
	if !save {
		return nil
	}
	if err := s.repo.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, ref Ref) (*session.Session, error) {
	sess, err := s.repo.GetSession(ctx, ref.Key())
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return session.New(ref.Key(), s.defaultExpert, time.Now()), nil
	}
	sess.Normalize(s.defaultExpert)
	return sess, nil
}

func (s *Service) logOutcome(ref Ref, text string, out Outcome) {
	base := convlog.Event{UserID: ref.UserID, SessionID: ref.SessionID, Channel: ref.Channel, Expert: out.Expert.Key}

	switch {
	case out.Replay:
		return
	case out.Suggestion != nil:
		e := base
		e.Direction, e.EventType, e.ContentRaw = "outbound", convlog.EventSuggestion, text
		e.Metadata = map[string]any{"suggested": out.Suggestion.Suggested.Key, "reason": string(out.Reason)}
		s.convlog.Log(e)
		return
	}

	if out.Switch != nil {
		e := base
		e.Direction, e.EventType = "internal", convlog.EventExpertSwitch
		e.Metadata = map[string]any{"from": out.Switch.From, "reason": out.Switch.Reason, "preserved": out.Switch.ContextPreserved}
		s.convlog.Log(e)
	}
	in := base
	in.Direction, in.EventType, in.ContentRaw = "inbound", convlog.EventUserMessage, text
	s.convlog.Log(in)
	if out.Reply != nil {
		reply := base
		reply.Direction, reply.EventType, reply.ContentRaw = "outbound", convlog.EventAssistantMessage, out.Reply.Content
		s.convlog.Log(reply)
	}
}

func (s *Service) logTurnError(ref Ref, sess *session.Session, text string, err error) {
	s.logger.Error("turn failed", "session_key", ref.Key(), "expert", sess.CurrentExpert(), "error", err)
	s.convlog.Log(convlog.Event{
		UserID: ref.UserID, SessionID: ref.SessionID, Channel: ref.Channel,
		Direction: "internal", EventType: convlog.EventProcessorError, Expert: sess.CurrentExpert(),
		ContentRaw: text, Metadata: map[string]any{"error": err.Error()},
	})
}
