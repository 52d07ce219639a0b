package domain

import (
	_ "embed"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// StageKind determines which actors may hold work in a stage and which
// work-unit statuses count as terminal there.
type StageKind string

const (
	StageKindWorker    StageKind = "worker"
	StageKindWorkshop  StageKind = "workshop"
	StageKindReception StageKind = "reception"
	StageKindReview    StageKind = "review"
	StageKindRepair    StageKind = "repair"
)

// Stage codes referenced by the workflow rules.
const (
	StageCodeIntake    = "intake"
	StageCodeReception = "reception"
	StageCodeReview    = "review"
	StageCodeRepair    = "repair"
)

// stageNamespace seeds deterministic stage IDs so the embedded catalog and
// persisted rows agree without a lookup.
var stageNamespace = uuid.MustParse("6f1c0a8e-9b3d-4f57-8a8e-2d4c1e7b5a90")

// StageID returns the stable identifier for a stage code.
func StageID(code string) uuid.UUID {
	return uuid.NewSHA1(stageNamespace, []byte(code))
}

// Stage is one step of the production pipeline.
type Stage struct {
	ID         uuid.UUID     `json:"id"`
	Code       string        `json:"code"`
	Name       string        `json:"name"`
	OrderIndex int           `json:"orderIndex"`
	Kind       StageKind     `json:"kind"`
	Branches   []string      `json:"branches,omitempty"`
	Inherit    bool          `json:"inherit"`
	SLA        time.Duration `json:"sla"`
}

// Sequenced reports whether the stage takes part in the main pipeline.
func (s Stage) Sequenced() bool { return s.OrderIndex > 0 }

// WorkshopProduction reports whether workshops rather than workers are the
// responsible actors in this stage.
func (s Stage) WorkshopProduction() bool {
	return s.Kind == StageKindWorkshop || s.Kind == StageKindRepair
}

// RequiredActorKind is the actor kind that may be allocated work here.
func (s Stage) RequiredActorKind() ActorKind {
	if s.WorkshopProduction() {
		return ActorKindWorkshop
	}
	return ActorKindWorker
}

// IsTerminal reports whether a unit in this stage with the given status is
// done with the stage.
func (s Stage) IsTerminal(status WorkUnitStatus) bool {
	switch status {
	case WorkUnitCompleted, WorkUnitCarriedOver:
		return true
	case WorkUnitReceived, WorkUnitReceivedIncomplete:
		return s.Kind == StageKindReception
	default:
		return false
	}
}

// HasBranch reports whether code is one of the stage's explicit successors.
func (s Stage) HasBranch(code string) bool {
	for _, b := range s.Branches {
		if b == code {
			return true
		}
	}
	return false
}

//go:embed stages.yaml
var defaultCatalogYAML []byte

type catalogFile struct {
	Stages []struct {
		Code     string    `yaml:"code"`
		Name     string    `yaml:"name"`
		Order    int       `yaml:"order"`
		Kind     StageKind `yaml:"kind"`
		Branches []string  `yaml:"branches"`
		Inherit  bool      `yaml:"inherit"`
		SLA      string    `yaml:"sla"`
	} `yaml:"stages"`
}

// Catalog is the validated, immutable stage list.
type Catalog struct {
	stages   []Stage
	sequence []Stage
	byID     map[uuid.UUID]Stage
	byCode   map[string]Stage
}

// DefaultCatalog parses the embedded pipeline definition.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// ParseCatalog reads a YAML pipeline definition.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse stage catalog: %w", err)
	}

	stages := make([]Stage, 0, len(file.Stages))
	for _, raw := range file.Stages {
		var sla time.Duration
		if raw.SLA != "" {
			d, err := time.ParseDuration(raw.SLA)
			if err != nil {
				return nil, fmt.Errorf("stage %s: invalid sla %q: %w", raw.Code, raw.SLA, err)
			}
			sla = d
		}
		stages = append(stages, Stage{
			ID:         StageID(raw.Code),
			Code:       raw.Code,
			Name:       raw.Name,
			OrderIndex: raw.Order,
			Kind:       raw.Kind,
			Branches:   raw.Branches,
			Inherit:    raw.Inherit,
			SLA:        sla,
		})
	}
	return NewCatalog(stages)
}

// NewCatalog validates a stage list: unique codes and order indexes, known
// kinds, branches pointing at later sequenced stages, and exactly one
// reception, review and repair stage.
func NewCatalog(stages []Stage) (*Catalog, error) {
	c := &Catalog{
		byID:   make(map[uuid.UUID]Stage, len(stages)),
		byCode: make(map[string]Stage, len(stages)),
	}
	indexes := make(map[int]string)
	kinds := make(map[StageKind]int)

	for _, s := range stages {
		if s.Code == "" {
			return nil, fmt.Errorf("stage without code")
		}
		if _, dup := c.byCode[s.Code]; dup {
			return nil, fmt.Errorf("duplicate stage code %s", s.Code)
		}
		switch s.Kind {
		case StageKindWorker, StageKindWorkshop, StageKindReception, StageKindReview, StageKindRepair:
		default:
			return nil, fmt.Errorf("stage %s: unknown kind %q", s.Code, s.Kind)
		}
		if s.Kind == StageKindRepair && s.Sequenced() {
			return nil, fmt.Errorf("stage %s: repair stage must not be sequenced", s.Code)
		}
		if s.Kind != StageKindRepair && !s.Sequenced() {
			return nil, fmt.Errorf("stage %s: order must be positive", s.Code)
		}
		if s.Sequenced() {
			if other, dup := indexes[s.OrderIndex]; dup {
				return nil, fmt.Errorf("stages %s and %s share order %d", other, s.Code, s.OrderIndex)
			}
			indexes[s.OrderIndex] = s.Code
		}
		if s.ID == uuid.Nil {
			s.ID = StageID(s.Code)
		}
		kinds[s.Kind]++
		c.byID[s.ID] = s
		c.byCode[s.Code] = s
		c.stages = append(c.stages, s)
	}

	for _, kind := range []StageKind{StageKindReception, StageKindReview, StageKindRepair} {
		if kinds[kind] != 1 {
			return nil, fmt.Errorf("catalog needs exactly one %s stage, found %d", kind, kinds[kind])
		}
	}

	for _, s := range c.stages {
		for _, code := range s.Branches {
			target, ok := c.byCode[code]
			if !ok {
				return nil, fmt.Errorf("stage %s: unknown branch %s", s.Code, code)
			}
			if !target.Sequenced() || target.OrderIndex <= s.OrderIndex {
				return nil, fmt.Errorf("stage %s: branch %s must come later in the sequence", s.Code, code)
			}
		}
	}

	sort.SliceStable(c.stages, func(i, j int) bool { return c.stages[i].OrderIndex < c.stages[j].OrderIndex })
	for _, s := range c.stages {
		if s.Sequenced() {
			c.sequence = append(c.sequence, s)
		}
	}
	if len(c.sequence) == 0 {
		return nil, fmt.Errorf("catalog has no sequenced stages")
	}
	if c.sequence[0].Inherit {
		return nil, fmt.Errorf("first stage %s cannot inherit units", c.sequence[0].Code)
	}
	return c, nil
}

// Stages returns every stage, repair first, then the sequence.
func (c *Catalog) Stages() []Stage {
	out := make([]Stage, len(c.stages))
	copy(out, c.stages)
	return out
}

func (c *Catalog) ByID(id uuid.UUID) (Stage, bool) {
	s, ok := c.byID[id]
	return s, ok
}

func (c *Catalog) ByCode(code string) (Stage, bool) {
	s, ok := c.byCode[code]
	return s, ok
}

// First is the stage new orders start in.
func (c *Catalog) First() Stage { return c.sequence[0] }

func (c *Catalog) Reception() Stage { return c.byKind(StageKindReception) }
func (c *Catalog) Review() Stage    { return c.byKind(StageKindReview) }
func (c *Catalog) Repair() Stage    { return c.byKind(StageKindRepair) }

func (c *Catalog) byKind(kind StageKind) Stage {
	for _, s := range c.stages {
		if s.Kind == kind {
			return s
		}
	}
	return Stage{}
}

// Next returns the sequenced stage following current. ok is false when
// current is the last stage.
func (c *Catalog) Next(current Stage) (Stage, bool) {
	for _, s := range c.sequence {
		if s.OrderIndex > current.OrderIndex {
			return s, true
		}
	}
	return Stage{}, false
}

