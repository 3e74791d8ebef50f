// Package feature hosts the four consumers of the broker: interactive chat,
// image analysis, multi-agent chain execution, and background text
// extraction. Each call site carries its own copy of the same fallback
// sequence - check availability, try the subprocess pool, fall back to the
// remote API - and reports which path produced the answer. The sequence is
// deliberately repeated rather than shared so each feature can evolve its
// prompts and failure handling independently.
package feature

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"brokerd/internal/broker"
)

// Engine is the subprocess-pool side of the fallback pair.
type Engine interface {
	Status(ctx context.Context) broker.Status
	Query(ctx context.Context, prompt string, opts broker.Options) (broker.Result, error)
	QueryWithImage(ctx context.Context, prompt string, image []byte, opts broker.Options) (broker.Result, error)
	Stream(ctx context.Context, prompt string, opts broker.Options, onChunk func(string)) (broker.Result, error)
}

// Remote is the fallback sink.
type Remote interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithImage(ctx context.Context, prompt string, image []byte) (string, error)
}

// Reply is a feature result with provenance: ViaCLI is true when the local
// subprocess path produced the content.
type Reply struct {
	Content string
	ViaCLI  bool
}

// Service exposes the four features.
type Service struct {
	engine Engine
	remote Remote
	log    zerolog.Logger
}

// New wires the features to an engine and a remote fallback.
func New(engine Engine, remote Remote, log zerolog.Logger) *Service {
	return &Service{engine: engine, remote: remote, log: log}
}

// Chat answers an interactive message.
func (s *Service) Chat(ctx context.Context, message string) (Reply, error) {
	if message == "" {
		return Reply{}, fmt.Errorf("empty message")
	}
	st := s.engine.Status(ctx)
	if st.Installed && st.Authenticated {
		res, err := s.engine.Query(ctx, message, broker.Options{})
		if err == nil {
			observeFallback("chat", "cli")
			return Reply{Content: res.Content, ViaCLI: true}, nil
		}
		s.log.Warn().Str("feature", "chat").Str("kind", broker.Kind(err)).Err(err).
			Msg("cli path failed, falling back to remote api")
	}
	content, err := s.remote.Complete(ctx, message)
	if err != nil {
		return Reply{}, err
	}
	observeFallback("chat", "remote")
	return Reply{Content: content}, nil
}

// ChatStream answers an interactive message with incremental output. When
// the subprocess path fails after some chunks were already delivered, the
// partial output is discarded: onReset tells the presenting layer to drop
// what it has shown, and the whole request restarts on the remote path.
// Output from two different generation processes is never spliced.
func (s *Service) ChatStream(ctx context.Context, message string, onChunk func(string), onReset func()) (Reply, error) {
	if message == "" {
		return Reply{}, fmt.Errorf("empty message")
	}
	st := s.engine.Status(ctx)
	if st.Installed && st.Authenticated {
		delivered := false
		res, err := s.engine.Stream(ctx, message, broker.Options{}, func(chunk string) {
			delivered = true
			onChunk(chunk)
		})
		if err == nil {
			observeFallback("chat", "cli")
			return Reply{Content: res.Content, ViaCLI: true}, nil
		}
		s.log.Warn().Str("feature", "chat").Str("kind", broker.Kind(err)).Err(err).
			Msg("cli stream failed, restarting on remote api")
		if delivered && onReset != nil {
			onReset()
		}
	}
	content, err := s.remote.Complete(ctx, message)
	if err != nil {
		return Reply{}, err
	}
	onChunk(content)
	observeFallback("chat", "remote")
	return Reply{Content: content}, nil
}

// Vision analyzes an image according to prompt.
func (s *Service) Vision(ctx context.Context, prompt string, image []byte) (Reply, error) {
	if len(image) == 0 {
		return Reply{}, fmt.Errorf("empty image payload")
	}
	if prompt == "" {
		prompt = "Describe this image."
	}
	st := s.engine.Status(ctx)
	if st.Installed && st.Authenticated {
		res, err := s.engine.QueryWithImage(ctx, prompt, image, broker.Options{})
		if err == nil {
			observeFallback("vision", "cli")
			return Reply{Content: res.Content, ViaCLI: true}, nil
		}
		s.log.Warn().Str("feature", "vision").Str("kind", broker.Kind(err)).Err(err).
			Msg("cli path failed, falling back to remote api")
	}
	content, err := s.remote.CompleteWithImage(ctx, prompt, image)
	if err != nil {
		return Reply{}, err
	}
	observeFallback("vision", "remote")
	return Reply{Content: content}, nil
}

// Chain runs a batch of agent prompts in order. Each step sees the previous
// step's output; the fallback decision is made per step so a transient CLI
// failure mid-chain does not abort the batch.
func (s *Service) Chain(ctx context.Context, steps []string) ([]Reply, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("empty chain")
	}
	out := make([]Reply, 0, len(steps))
	prev := ""
	for i, step := range steps {
		prompt := step
		if prev != "" {
			prompt = step + "\n\nPrevious agent output:\n" + prev
		}
		st := s.engine.Status(ctx)
		var reply Reply
		if st.Installed && st.Authenticated {
			res, err := s.engine.Query(ctx, prompt, broker.Options{})
			if err == nil {
				observeFallback("chain", "cli")
				reply = Reply{Content: res.Content, ViaCLI: true}
			} else {
				s.log.Warn().Str("feature", "chain").Int("step", i).
					Str("kind", broker.Kind(err)).Err(err).
					Msg("cli path failed, falling back to remote api")
			}
		}
		if !reply.ViaCLI {
			content, err := s.remote.Complete(ctx, prompt)
			if err != nil {
				return out, fmt.Errorf("chain step %d: %w", i, err)
			}
			observeFallback("chain", "remote")
			reply = Reply{Content: content}
		}
		out = append(out, reply)
		prev = reply.Content
	}
	return out, nil
}

const extractPrompt = "Extract the factual statements from the following text" +
	" as a plain bullet list, one fact per line. Output only the list.\n\n"

// Extract pulls structured facts out of raw text in the background.
func (s *Service) Extract(ctx context.Context, text string) (Reply, error) {
	if text == "" {
		return Reply{}, fmt.Errorf("empty text")
	}
	prompt := extractPrompt + text
	st := s.engine.Status(ctx)
	if st.Installed && st.Authenticated {
		res, err := s.engine.Query(ctx, prompt, broker.Options{})
		if err == nil {
			observeFallback("extract", "cli")
			return Reply{Content: res.Content, ViaCLI: true}, nil
		}
		s.log.Warn().Str("feature", "extract").Str("kind", broker.Kind(err)).Err(err).
			Msg("cli path failed, falling back to remote api")
	}
	content, err := s.remote.Complete(ctx, prompt)
	if err != nil {
		return Reply{}, err
	}
	observeFallback("extract", "remote")
	return Reply{Content: content}, nil
}
