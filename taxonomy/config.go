// Package taxonomy assigns activities to behavioral categories and derives
// per-category attributes from titles, notes and sub-labels.
package taxonomy

import (
	"fmt"
	"strings"
	"time"

	"activity-sync/activity"
)

// Kind is a resolved taxonomy category.
type Kind string

const (
	KindRelationship Kind = "relationship"
	KindMaintenance  Kind = "maintenance"
	KindRecovery     Kind = "recovery"
	KindLearning     Kind = "learning"
	KindProductivity Kind = "productivity"
	KindChores       Kind = "chores"
	KindDrain        Kind = "drain"
	KindExercise     Kind = "exercise"
	KindSleep        Kind = "sleep"
)

var kinds = []Kind{
	KindRelationship, KindMaintenance, KindRecovery, KindLearning,
	KindProductivity, KindChores, KindDrain, KindExercise, KindSleep,
}

func (k Kind) valid() bool {
	for _, v := range kinds {
		if v == k {
			return true
		}
	}
	return false
}

// RenameRule rewrites Old to New for records dated on or before Cutoff.
type RenameRule struct {
	Old    string `yaml:"old"`
	New    string `yaml:"new"`
	Cutoff string `yaml:"cutoff"`
}

// Override pins the category (and optionally the sub-label) of one entity.
type Override struct {
	Category string `yaml:"category"`
	SubLabel string `yaml:"sub_label"`
}

type Keywords struct {
	RelationshipMaintenance []string `yaml:"relationship_maintenance"`
	Anaerobic               []string `yaml:"anaerobic"`
	Aerobic                 []string `yaml:"aerobic"`
	Risky                   []string `yaml:"risky"`
	Driving                 []string `yaml:"driving"`
	Meal                    []string `yaml:"meal"`
	MealPrep                []string `yaml:"meal_prep"`
	Sleep                   []string `yaml:"sleep"`
}

// Tags lists the spellings of each special tag. The first spelling is the one
// added when a tag has to be ensured.
type Tags struct {
	Relationship         []string `yaml:"relationship"`
	EmotionEvent         []string `yaml:"emotion_event"`
	InstantGratification []string `yaml:"instant_gratification"`
}

type Labels struct {
	Driving string `yaml:"driving"`
	Meal    string `yaml:"meal"`
}

type Config struct {
	// Categories maps each kind to the source labels that mean it. The kind
	// name itself always resolves.
	Categories        map[Kind][]string   `yaml:"categories"`
	RenameRules       []RenameRule        `yaml:"rename_rules"`
	Overrides         map[string]Override `yaml:"overrides"`
	Keywords          Keywords            `yaml:"keywords"`
	Tags              Tags                `yaml:"tags"`
	Labels            Labels              `yaml:"labels"`
	LearningDelimiter string              `yaml:"learning_delimiter"`
}

// Default returns the bilingual taxonomy the pipeline ships with.
func Default() Config {
	return Config{
		Categories: map[Kind][]string{
			KindRelationship: {"인간관계", "relationships", "social"},
			KindMaintenance:  {"유지 / 정리", "유지/정리", "upkeep"},
			KindRecovery:     {"휴식 / 회복", "휴식/회복", "rest"},
			KindLearning:     {"학습 / 성장", "학습/성장", "study"},
			KindProductivity: {"일 / 생산", "일/생산", "work"},
			KindChores:       {"Daily / Chore", "daily/chore", "chore", "daily"},
			KindDrain:        {"drains"},
			KindExercise:     {"운동", "workout"},
			KindSleep:        {"수면"},
		},
		Keywords: Keywords{
			RelationshipMaintenance: []string{"카톡", "연락", "kakaotalk", "text message", "phone call"},
			Anaerobic: []string{
				"무산소", "웨이트", "헬스", "근력", "벤치프레스", "스쿼트", "데드리프트",
				"덤벨", "바벨", "풀업", "턱걸이", "푸쉬업", "팔굽혀펴기", "플랭크",
				"weight", "gym", "strength", "bench press", "squat", "deadlift",
				"dumbbell", "barbell", "pull-up", "push-up", "plank",
			},
			Aerobic: []string{
				"유산소", "러닝", "달리기", "조깅", "걷기", "산책", "자전거", "사이클", "스텝퍼",
				"수영", "에어로빅", "줌바", "댄스", "트레드밀", "런닝머신", "계단", "등산",
				"cardio", "running", "jogging", "walk", "cycling", "bike", "swim",
				"aerobic", "zumba", "dance", "treadmill", "stairs", "hiking",
			},
			Risky: []string{
				"혼술", "유투브", "유튜브", "넷플릭스", "netflix", "영화", "드라마",
				"게임", "핸드폰", "폰", "인스타", "instagram", "페이스북", "facebook",
				"youtube", "movie", "drama", "game", "phone", "drinking alone",
			},
			Driving:  []string{"운전", "drive", "drove", "driving"},
			Meal:     []string{"식사", "아침식사", "점심식사", "저녁식사", "조식", "중식", "석식", "meal", "breakfast", "lunch", "dinner"},
			MealPrep: []string{"식사준비", "식사 준비", "meal prep"},
			Sleep:    []string{"수면", "sleep", "nap"},
		},
		Tags: Tags{
			Relationship:         []string{"#relationship", "#인간관계"},
			EmotionEvent:         []string{"#emotion-event", "#감정이벤트"},
			InstantGratification: []string{"#instant-gratification", "#즉시만족"},
		},
		Labels: Labels{
			Driving: "driving",
			Meal:    "meal",
		},
		LearningDelimiter: "_",
	}
}

func (c Config) Validate() error {
	seen := make(map[string]Kind)
	for k := range c.Categories {
		if !k.valid() {
			return fmt.Errorf("taxonomy: unknown category kind %q", k)
		}
	}
	for _, k := range kinds {
		for _, alias := range append([]string{string(k)}, c.Categories[k]...) {
			key := foldLabel(alias)
			if key == "" {
				return fmt.Errorf("taxonomy: empty alias for %s", k)
			}
			if other, ok := seen[key]; ok && other != k {
				return fmt.Errorf("taxonomy: alias %q used by %s and %s", alias, other, k)
			}
			seen[key] = k
		}
	}
	for i, r := range c.RenameRules {
		if strings.TrimSpace(r.Old) == "" || strings.TrimSpace(r.New) == "" {
			return fmt.Errorf("taxonomy: rename rule %d: old and new are required", i)
		}
		if _, err := time.Parse(activity.DateLayout, r.Cutoff); err != nil {
			return fmt.Errorf("taxonomy: rename rule %d: bad cutoff %q: %w", i, r.Cutoff, err)
		}
	}
	for key, o := range c.Overrides {
		if strings.TrimSpace(o.Category) == "" {
			return fmt.Errorf("taxonomy: override %s: category is required", key)
		}
	}
	if len(c.Tags.Relationship) == 0 || len(c.Tags.EmotionEvent) == 0 || len(c.Tags.InstantGratification) == 0 {
		return fmt.Errorf("taxonomy: every special tag needs at least one spelling")
	}
	for _, t := range append(append(append([]string{}, c.Tags.Relationship...), c.Tags.EmotionEvent...), c.Tags.InstantGratification...) {
		if !strings.HasPrefix(t, "#") || strings.ContainsAny(t, " \t") {
			return fmt.Errorf("taxonomy: bad tag %q", t)
		}
	}
	if c.Labels.Driving == "" || c.Labels.Meal == "" {
		return fmt.Errorf("taxonomy: driving and meal labels are required")
	}
	if c.LearningDelimiter == "" {
		return fmt.Errorf("taxonomy: learning delimiter is required")
	}
	return nil
}
