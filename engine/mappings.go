package engine

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"mapring/mapping"
	"mapring/utils"
)

const mappingPrefix = "mapping:"

// MAPPING KEY FORMAT: mapping:<platform>:<typeid>, value is the class name
func mappingKey(k mapping.Key) string {
	return fmt.Sprintf("%s%d:%d", mappingPrefix, k.PlatformID, k.TypeID)
}

// PutMapping persists an accepted binding.
func (e *Engine) PutMapping(item mapping.Item) error {
	if err := e.Set(mappingKey(item.Key()), []byte(item.ClassName)); err != nil {
		return fmt.Errorf("persist mapping %s: %w", item.Key(), err)
	}
	return nil
}

// LoadMappings returns every persisted binding. Malformed keys are skipped.
func (e *Engine) LoadMappings() ([]mapping.Item, error) {
	iter, err := e.Db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(mappingPrefix),
		UpperBound: []byte("mapping;"),
	})
	if err != nil {
		return nil, fmt.Errorf("create mapping iterator: %w", err)
	}
	defer iter.Close()

	var items []mapping.Item
	for ok := iter.First(); ok; ok = iter.Next() {
		key := string(iter.Key())
		item, err := parseMapping(key, string(iter.Value()))
		if err != nil {
			e.log.Warn("skipping malformed mapping", zap.String("key", key), zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return items, nil
}

func parseMapping(key, className string) (mapping.Item, error) {
	parts := strings.Split(strings.TrimPrefix(key, mappingPrefix), ":")
	if len(parts) != 2 {
		return mapping.Item{}, fmt.Errorf("unexpected key layout")
	}
	platform, err := utils.ParsePlatform(parts[0])
	if err != nil {
		return mapping.Item{}, err
	}
	typeID, err := utils.ParseTypeID(parts[1])
	if err != nil {
		return mapping.Item{}, err
	}
	return mapping.NewItem(platform, typeID, className)
}
