package chatter

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/kumoagent/kumo/internal/memory"
	"github.com/kumoagent/kumo/pkg/models"
)

// Registry holds the chatter variants by conversation class. The variant
// table is explicit: adding a variant means adding a row here.
type Registry struct {
	logger   *slog.Logger
	chatters map[models.MessageClass]Chatter
	stores   map[models.MessageClass]*memory.Store
}

// variantRow declares one chatter variant: its config file tag, the class
// it serves, and its constructor.
type variantRow struct {
	tag   string
	class models.MessageClass
	build func(cfg *VariantConfig, deps Deps) Chatter
}

// NewRegistry loads every variant's config from promptRoot/<tag>.yaml and
// constructs the chatters. A variant whose config is missing or malformed is
// registered inactive so it still answers with an empty default reply
// instead of dropping messages.
func NewRegistry(promptRoot string, deps Deps, sink memory.Sink, profiles ProfileSource, storage ProfileStore) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "registry")

	table := []variantRow{
		{
			tag:   "group",
			class: models.ClassGroup,
			build: func(cfg *VariantConfig, deps Deps) Chatter {
				return NewGroupChatter(cfg, deps)
			},
		},
		{
			tag:   "private",
			class: models.ClassPrivate,
			build: func(cfg *VariantConfig, deps Deps) Chatter {
				return NewPrivateChatter(cfg, deps, profiles, storage)
			},
		},
	}

	r := &Registry{
		logger:   logger,
		chatters: make(map[models.MessageClass]Chatter, len(table)),
		stores:   make(map[models.MessageClass]*memory.Store, len(table)),
	}

	for _, row := range table {
		path := filepath.Join(promptRoot, row.tag+".yaml")
		cfg, err := LoadVariantConfig(path)
		if err != nil {
			logger.Error("variant config unusable, registering inactive",
				"variant", row.tag,
				"path", path,
				"error", err)
			cfg = &VariantConfig{}
		}

		vdeps := deps
		if vdeps.Memory == nil {
			vdeps.Memory = memory.NewStore(cfg.MessageCacheLen, sink, logger)
		}
		r.stores[row.class] = vdeps.Memory
		r.chatters[row.class] = row.build(cfg, vdeps)

		logger.Info("variant registered",
			"variant", row.tag,
			"active", cfg.Activate,
			"model", cfg.Model)
	}
	return r
}

// ForClass returns the chatter serving a conversation class.
func (r *Registry) ForClass(class models.MessageClass) (Chatter, bool) {
	c, ok := r.chatters[class]
	return c, ok
}

// MemoryFor returns the short-term store backing a class, for warming.
func (r *Registry) MemoryFor(class models.MessageClass) (*memory.Store, bool) {
	s, ok := r.stores[class]
	return s, ok
}

// Group returns the group variant when registered, for the reminder path.
func (r *Registry) Group() (*GroupChatter, bool) {
	c, ok := r.chatters[models.ClassGroup].(*GroupChatter)
	return c, ok
}

// WarmSource is the slice of the persistent log used to rebuild short-term
// memory at startup.
type WarmSource interface {
	Conversations(ctx context.Context) ([]models.ConversationKey, error)
	Messages(ctx context.Context, key models.ConversationKey, limit int) ([]models.MessageRecord, error)
	Replies(ctx context.Context, key models.ConversationKey) (map[int64]string, error)
}

// Warm replays the persisted message log into short-term memory so a restart
// does not lose conversational context. Failures are logged and skipped.
func (r *Registry) Warm(ctx context.Context, src WarmSource) {
	keys, err := src.Conversations(ctx)
	if err != nil {
		r.logger.Error("memory warm failed", "error", err)
		return
	}

	for _, key := range keys {
		store, ok := r.stores[key.Class]
		if !ok {
			continue
		}
		recs, err := src.Messages(ctx, key, store.Capacity())
		if err != nil {
			r.logger.Error("memory warm read failed", "conversation", key.String(), "error", err)
			continue
		}
		replies, err := src.Replies(ctx, key)
		if err != nil {
			r.logger.Error("memory warm replies failed", "conversation", key.String(), "error", err)
			replies = nil
		}
		store.Warm(ctx, recs, replies)
	}
	r.logger.Info("short-term memory warmed", "conversations", len(keys))
}
