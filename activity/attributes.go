package activity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Variant discriminates the per-category attribute union.
type Variant string

const (
	VariantPlain        Variant = "plain"
	VariantLearning     Variant = "learning"
	VariantProductivity Variant = "productivity"
	VariantChores       Variant = "chores"
	VariantExercise     Variant = "exercise"
	VariantRecovery     Variant = "recovery"
)

// Attributes are the fields derived for one category. Each variant carries
// only its own fields.
type Attributes interface {
	Variant() Variant
	Validate() error
}

// Plain is used for categories without derived fields.
type Plain struct{}

func (Plain) Variant() Variant { return VariantPlain }
func (Plain) Validate() error  { return nil }

// Learning holds the method/target pair parsed from a title such as
// "lecture_kubernetes". Both are empty when the title had no delimiter.
type Learning struct {
	Method string `json:"method,omitempty"`
	Target string `json:"target,omitempty"`
}

func NewLearning(method, target string) (Learning, error) {
	l := Learning{Method: strings.TrimSpace(method), Target: strings.TrimSpace(target)}
	return l, l.Validate()
}

func (Learning) Variant() Variant { return VariantLearning }

func (l Learning) Validate() error {
	if (l.Method == "") != (l.Target == "") {
		return fmt.Errorf("learning: method and target must both be set or both be empty")
	}
	return nil
}

func (l Learning) Extracted() bool {
	return l.Method != "" && l.Target != ""
}

type Productivity struct {
	WorkTags []string `json:"work_tags"`
}

func NewProductivity(tags []string) (Productivity, error) {
	p := Productivity{WorkTags: append([]string{}, tags...)}
	return p, p.Validate()
}

func (Productivity) Variant() Variant { return VariantProductivity }

func (p Productivity) Validate() error {
	for _, t := range p.WorkTags {
		if !strings.HasPrefix(t, "#") || len(t) < 2 || strings.ContainsAny(t, " \t\n") {
			return fmt.Errorf("productivity: bad work tag %q", t)
		}
	}
	return nil
}

type Chores struct {
	Driving bool `json:"driving"`
}

func (Chores) Variant() Variant { return VariantChores }
func (Chores) Validate() error  { return nil }

type ExerciseType string

const (
	ExerciseAnaerobic ExerciseType = "anaerobic"
	ExerciseAerobic   ExerciseType = "aerobic"
	ExerciseMixed     ExerciseType = "mixed"
	ExerciseOther     ExerciseType = "other"
)

type Exercise struct {
	Type ExerciseType `json:"type"`
}

func NewExercise(t ExerciseType) (Exercise, error) {
	e := Exercise{Type: t}
	return e, e.Validate()
}

func (Exercise) Variant() Variant { return VariantExercise }

func (e Exercise) Validate() error {
	switch e.Type {
	case ExerciseAnaerobic, ExerciseAerobic, ExerciseMixed, ExerciseOther:
		return nil
	}
	return fmt.Errorf("exercise: unknown type %q", e.Type)
}

type Recovery struct {
	RiskyRecharger bool `json:"risky_recharger"`
	Meal           bool `json:"meal"`
}

func (Recovery) Variant() Variant { return VariantRecovery }
func (Recovery) Validate() error  { return nil }

type attributesEnvelope struct {
	Variant Variant         `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

// MarshalAttributes encodes a variant with its discriminator. nil encodes as Plain.
func MarshalAttributes(a Attributes) ([]byte, error) {
	if a == nil {
		a = Plain{}
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return json.Marshal(attributesEnvelope{Variant: a.Variant(), Data: data})
}

// UnmarshalAttributes decodes what MarshalAttributes produced and validates it.
func UnmarshalAttributes(b []byte) (Attributes, error) {
	if len(b) == 0 || string(b) == "null" {
		return Plain{}, nil
	}
	var env attributesEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	var a Attributes
	var err error
	switch env.Variant {
	case VariantPlain:
		a = Plain{}
	case VariantLearning:
		var v Learning
		err = json.Unmarshal(env.Data, &v)
		a = v
	case VariantProductivity:
		var v Productivity
		err = json.Unmarshal(env.Data, &v)
		a = v
	case VariantChores:
		var v Chores
		err = json.Unmarshal(env.Data, &v)
		a = v
	case VariantExercise:
		var v Exercise
		err = json.Unmarshal(env.Data, &v)
		a = v
	case VariantRecovery:
		var v Recovery
		err = json.Unmarshal(env.Data, &v)
		a = v
	default:
		return nil, fmt.Errorf("unknown attributes variant %q", env.Variant)
	}
	if err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
