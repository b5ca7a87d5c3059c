package store

import (
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/scoutbatch-go/internal/domain/batch"
)

const (
	DefaultKeyPrefix = "SCOUT_BATCH_SEARCHABLE_QUEUE"

	registrySuffix  = "ACTIVE_ENTITY_TYPES"
	sweepLockSuffix = "SWEEP_LOCK"
)

// KeyBuilder derives cache keys of the form
// {prefix}_{ENTITY_TYPE_UPPER_SNAKE}_{MAKE_SEARCHABLE|REMOVE_FROM_SEARCH}.
type KeyBuilder struct {
	prefix string
}

func NewKeyBuilder(prefix string) KeyBuilder {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return KeyBuilder{prefix: prefix}
}

func (b KeyBuilder) BatchKey(key batch.Key) string {
	return b.prefix + "_" + UpperSnake(key.EntityType) + "_" + string(key.Direction)
}

func (b KeyBuilder) RegistryKey() string {
	return b.prefix + "_" + registrySuffix
}

// SweepLockKey guards the periodic sweep across replicas.
func (b KeyBuilder) SweepLockKey() string {
	return b.prefix + "_" + sweepLockSuffix
}

// UpperSnake normalizes an entity type name: namespace separators are
// dropped and the rest is converted to screaming snake case, so
// `App\Models\BlogPost` becomes APP_MODELS_BLOG_POST.
func UpperSnake(entityType string) string {
	name := strings.ReplaceAll(entityType, `\`, "")
	return strcase.ToScreamingSnake(name)
}
