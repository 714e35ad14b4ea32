package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"maps"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"
)

// CheckpointExt is appended to every checkpoint file name
const CheckpointExt = ".ckpt"

// ErrInvalidCheckpoint is returned when a checkpoint file cannot be decoded
var ErrInvalidCheckpoint = errors.New("invalid checkpoint")

// ModelCheckpoint saves the module whenever Monitor improves and keeps only
// the best file on disk
type ModelCheckpoint struct {
	Dir      string
	Filename string // Template, e.g. "name-{epoch:02d}-{val_f1:.2f}"
	Monitor  string
	Mode     Mode

	bestPath  string
	bestScore float64
	hasBest   bool
}

// NewModelCheckpoint creates a top-1 checkpoint callback
func NewModelCheckpoint(dir, filename, monitor string, mode Mode) (*ModelCheckpoint, error) {
	if err := mode.validate(); err != nil {
		return nil, err
	}
	if monitor == "" {
		return nil, errors.New("checkpoint monitor is required")
	}
	if filename == "" {
		filename = "{epoch}-{step}"
	}
	return &ModelCheckpoint{
		Dir:       dir,
		Filename:  filename,
		Monitor:   monitor,
		Mode:      mode,
		bestScore: mode.worst(),
	}, nil
}

// BestPath returns the path of the best checkpoint, empty before the first save
func (c *ModelCheckpoint) BestPath() string {
	return c.bestPath
}

// BestScore returns the monitored value of the best checkpoint
func (c *ModelCheckpoint) BestScore() (float64, bool) {
	return c.bestScore, c.hasBest
}

// OnValidationEnd implements Callback
func (c *ModelCheckpoint) OnValidationEnd(ctx context.Context, state *State) error {
	score, ok := state.Metrics[c.Monitor]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMonitorMissing, c.Monitor)
	}
	if math.IsNaN(score) {
		return nil
	}
	if c.hasBest && !c.Mode.improves(score, c.bestScore, 0) {
		return nil
	}

	values := make(map[string]float64, len(state.Metrics)+2)
	for k, v := range state.Metrics {
		values[k] = v
	}
	values["epoch"] = float64(state.Epoch)
	values["step"] = float64(state.GlobalStep)

	path := filepath.Join(c.Dir, FormatCheckpointName(c.Filename, values)+CheckpointExt)

	blob, err := state.Module.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal module: %w", err)
	}

	ckpt := &Checkpoint{
		Epoch:       state.Epoch,
		GlobalStep:  state.GlobalStep,
		Monitor:     c.Monitor,
		Score:       score,
		Hyperparams: state.Module.Hyperparams(),
		Metrics:     state.Metrics,
		State:       blob,
	}
	if err := WriteCheckpoint(path, ckpt); err != nil {
		return err
	}

	if c.bestPath != "" && c.bestPath != path {
		if err := os.Remove(c.bestPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("Warning: failed to remove old checkpoint %s: %v", c.bestPath, err)
		}
	}

	c.bestPath = path
	c.bestScore = score
	c.hasBest = true
	return nil
}

var templateField = regexp.MustCompile(`\{([^{}:]+)(?::([^{}]*))?\}`)

// FormatCheckpointName renders a filename template. Each "{name:format}" field
// becomes "name=" followed by the value formatted with the given format
// ("02d", ".2f", ...). Unknown names render as 0.
func FormatCheckpointName(template string, values map[string]float64) string {
	return templateField.ReplaceAllStringFunc(template, func(field string) string {
		m := templateField.FindStringSubmatch(field)
		name, layout := m[1], m[2]
		return name + "=" + formatValue(values[name], layout, name == "epoch" || name == "step")
	})
}

func formatValue(v float64, layout string, integral bool) string {
	if layout == "" {
		if integral {
			return strconv.Itoa(int(v))
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	}

	verb := layout[len(layout)-1]
	switch verb {
	case 'd':
		return fmt.Sprintf("%"+layout, int(v))
	case 'f', 'e', 'g':
		return fmt.Sprintf("%"+layout, v)
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}

// Checkpoint is the decoded content of a checkpoint file
type Checkpoint struct {
	Epoch       int
	GlobalStep  int
	Monitor     string
	Score       float64
	Hyperparams map[string]any
	Metrics     map[string]float64
	State       []byte // Module.MarshalBinary output
}

// Field numbers of the checkpoint envelope
const (
	fieldEpoch       protowire.Number = 1
	fieldGlobalStep  protowire.Number = 2
	fieldMonitor     protowire.Number = 3
	fieldScore       protowire.Number = 4
	fieldHyperparams protowire.Number = 5
	fieldMetric      protowire.Number = 6
	fieldState       protowire.Number = 7

	fieldMetricName  protowire.Number = 1
	fieldMetricValue protowire.Number = 2
)

// Marshal encodes the checkpoint in protobuf wire format
func (c *Checkpoint) Marshal() ([]byte, error) {
	hparams, err := json.Marshal(c.Hyperparams)
	if err != nil {
		return nil, fmt.Errorf("failed to encode hyperparameters: %w", err)
	}

	var b []byte
	b = protowire.AppendTag(b, fieldEpoch, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Epoch))
	b = protowire.AppendTag(b, fieldGlobalStep, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.GlobalStep))
	b = protowire.AppendTag(b, fieldMonitor, protowire.BytesType)
	b = protowire.AppendString(b, c.Monitor)
	b = protowire.AppendTag(b, fieldScore, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(c.Score))
	b = protowire.AppendTag(b, fieldHyperparams, protowire.BytesType)
	b = protowire.AppendBytes(b, hparams)

	for _, name := range slices.Sorted(maps.Keys(c.Metrics)) {
		var m []byte
		m = protowire.AppendTag(m, fieldMetricName, protowire.BytesType)
		m = protowire.AppendString(m, name)
		m = protowire.AppendTag(m, fieldMetricValue, protowire.Fixed64Type)
		m = protowire.AppendFixed64(m, math.Float64bits(c.Metrics[name]))

		b = protowire.AppendTag(b, fieldMetric, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}

	b = protowire.AppendTag(b, fieldState, protowire.BytesType)
	b = protowire.AppendBytes(b, c.State)
	return b, nil
}

// UnmarshalCheckpoint decodes a checkpoint written by Marshal. Unknown fields
// are skipped.
func UnmarshalCheckpoint(b []byte) (*Checkpoint, error) {
	c := &Checkpoint{Metrics: make(map[string]float64)}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCheckpoint, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldEpoch && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: epoch", ErrInvalidCheckpoint)
			}
			c.Epoch = int(v)
			b = b[n:]
		case num == fieldGlobalStep && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: step", ErrInvalidCheckpoint)
			}
			c.GlobalStep = int(v)
			b = b[n:]
		case num == fieldMonitor && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: monitor", ErrInvalidCheckpoint)
			}
			c.Monitor = v
			b = b[n:]
		case num == fieldScore && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: score", ErrInvalidCheckpoint)
			}
			c.Score = math.Float64frombits(v)
			b = b[n:]
		case num == fieldHyperparams && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: hyperparameters", ErrInvalidCheckpoint)
			}
			if err := json.Unmarshal(v, &c.Hyperparams); err != nil {
				return nil, fmt.Errorf("%w: hyperparameters: %v", ErrInvalidCheckpoint, err)
			}
			b = b[n:]
		case num == fieldMetric && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: metric", ErrInvalidCheckpoint)
			}
			name, value, err := unmarshalMetric(v)
			if err != nil {
				return nil, err
			}
			c.Metrics[name] = value
			b = b[n:]
		case num == fieldState && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: state", ErrInvalidCheckpoint)
			}
			c.State = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d", ErrInvalidCheckpoint, num)
			}
			b = b[n:]
		}
	}
	return c, nil
}

func unmarshalMetric(b []byte) (string, float64, error) {
	var name string
	var value float64
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", 0, fmt.Errorf("%w: metric tag", ErrInvalidCheckpoint)
		}
		b = b[n:]
		switch {
		case num == fieldMetricName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", 0, fmt.Errorf("%w: metric name", ErrInvalidCheckpoint)
			}
			name = v
			b = b[n:]
		case num == fieldMetricValue && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return "", 0, fmt.Errorf("%w: metric value", ErrInvalidCheckpoint)
			}
			value = math.Float64frombits(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", 0, fmt.Errorf("%w: metric field %d", ErrInvalidCheckpoint, num)
			}
			b = b[n:]
		}
	}
	return name, value, nil
}

// WriteCheckpoint writes c to path, creating parent directories. The file is
// written to a temporary name first and renamed into place.
func WriteCheckpoint(path string, c *Checkpoint) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move checkpoint into place: %w", err)
	}
	return nil
}

// ReadCheckpoint loads a checkpoint file
func ReadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := UnmarshalCheckpoint(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return c, nil
}
