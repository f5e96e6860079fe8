package detection

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/wildwatch-go/internal/errors"
)

// Labels maps class ids to class names.
type Labels struct {
	names map[int]string
}

// datasetFile is the subset of a YOLO data.yaml we need. names is either a
// list indexed by class id or a map of id to name.
type datasetFile struct {
	Names yaml.Node `yaml:"names"`
}

// NewLabels builds labels from a list indexed by class id.
func NewLabels(names []string) *Labels {
	l := &Labels{names: make(map[int]string, len(names))}
	for i, n := range names {
		l.names[i] = n
	}
	return l
}

// LoadLabels reads class names from a YOLO dataset file.
func LoadLabels(path string) (*Labels, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is from operator config
	if err != nil {
		return nil, errors.New(fmt.Errorf("read labels: %w", err)).
			Component("detection").
			Category(errors.CategoryFileIO).
			Priority(errors.PriorityCritical).
			FileContext(path, 0).
			Build()
	}

	labels, err := ParseLabels(data)
	if err != nil {
		return nil, errors.New(err).
			Component("detection").
			Category(errors.CategoryFileParsing).
			Priority(errors.PriorityCritical).
			FileContext(path, int64(len(data))).
			Build()
	}
	return labels, nil
}

// ParseLabels decodes the names section of a YOLO dataset file.
func ParseLabels(data []byte) (*Labels, error) {
	var ds datasetFile
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}

	switch ds.Names.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := ds.Names.Decode(&names); err != nil {
			return nil, fmt.Errorf("decode names list: %w", err)
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("labels file has an empty names list")
		}
		return NewLabels(names), nil

	case yaml.MappingNode:
		var byID map[int]string
		if err := ds.Names.Decode(&byID); err != nil {
			return nil, fmt.Errorf("decode names map: %w", err)
		}
		if len(byID) == 0 {
			return nil, fmt.Errorf("labels file has an empty names map")
		}
		l := &Labels{names: make(map[int]string, len(byID))}
		for id, n := range byID {
			if id < 0 {
				return nil, fmt.Errorf("negative class id %d in names map", id)
			}
			l.names[id] = n
		}
		return l, nil

	default:
		return nil, fmt.Errorf("labels file has no names section")
	}
}

// Name returns the class name, or class_<id> for unknown ids.
func (l *Labels) Name(classID int) string {
	if l != nil {
		if n, ok := l.names[classID]; ok && n != "" {
			return n
		}
	}
	return "class_" + strconv.Itoa(classID)
}

// Len returns the number of known classes.
func (l *Labels) Len() int {
	if l == nil {
		return 0
	}
	return len(l.names)
}
