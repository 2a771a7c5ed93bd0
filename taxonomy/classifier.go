package taxonomy

import (
	"strings"

	"activity-sync/activity"
)

// Record is the part of a day segment the classifier looks at.
type Record struct {
	EntityKey string
	Category  string
	SubLabel  string
	Title     string
	Notes     string
	Date      string
}

// Result is a classified segment. Category is the kind name when the label
// resolved, otherwise the label as it was after renaming.
type Result struct {
	Kind               Kind
	Category           string
	SubLabel           string
	Title              string
	Notes              string
	Tags               []string
	HasRelationshipTag bool
	HasEmotionEvent    bool
	Attributes         activity.Attributes
}

type Classifier struct {
	aliases   map[string]Kind
	renames   []RenameRule
	overrides map[string]Override
	delimiter string
	labels    Labels

	relMaint  keywordSet
	anaerobic keywordSet
	aerobic   keywordSet
	risky     keywordSet
	driving   keywordSet
	meal      keywordSet
	mealPrep  keywordSet
	sleep     wordSet

	relTag     tagSet
	emotionTag tagSet
	instantTag tagSet
}

// New validates cfg and compiles it. The classifier keeps its own copy of
// the rename rules and overrides.
func New(cfg Config) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Classifier{
		aliases:   make(map[string]Kind),
		renames:   append([]RenameRule(nil), cfg.RenameRules...),
		overrides: make(map[string]Override, len(cfg.Overrides)),
		delimiter: cfg.LearningDelimiter,
		labels:    cfg.Labels,

		relMaint:  newKeywordSet(cfg.Keywords.RelationshipMaintenance),
		anaerobic: newKeywordSet(cfg.Keywords.Anaerobic),
		aerobic:   newKeywordSet(cfg.Keywords.Aerobic),
		risky:     newKeywordSet(cfg.Keywords.Risky),
		driving:   newKeywordSet(cfg.Keywords.Driving),
		meal:      newKeywordSet(cfg.Keywords.Meal),
		mealPrep:  newKeywordSet(cfg.Keywords.MealPrep),
		sleep:     newWordSet(cfg.Keywords.Sleep),

		relTag:     newTagSet(cfg.Tags.Relationship),
		emotionTag: newTagSet(cfg.Tags.EmotionEvent),
		instantTag: newTagSet(cfg.Tags.InstantGratification),
	}
	for _, k := range kinds {
		c.aliases[foldLabel(string(k))] = k
		for _, a := range cfg.Categories[k] {
			c.aliases[foldLabel(a)] = k
		}
	}
	for key, o := range cfg.Overrides {
		c.overrides[key] = o
	}
	return c, nil
}

// Resolve maps a source label to its kind.
func (c *Classifier) Resolve(label string) (Kind, bool) {
	k, ok := c.aliases[foldLabel(label)]
	return k, ok
}

// Rename applies the rename rules in order. A rule sees the result of the
// rules before it, so the last matching rule wins.
func (c *Classifier) Rename(category, date string) string {
	for _, r := range c.renames {
		if category == r.Old && date <= r.Cutoff {
			category = r.New
		}
	}
	return category
}

// SleepLike reports whether a raw record should be kept whole and dated by
// its end.
func (c *Classifier) SleepLike(category, title string) bool {
	if k, ok := c.Resolve(category); ok && k == KindSleep {
		return true
	}
	return c.sleep.Match(fold(title))
}

// Classify is deterministic, and classifying its own output changes nothing.
func (c *Classifier) Classify(r Record) Result {
	category := c.Rename(strings.TrimSpace(r.Category), r.Date)
	sub := strings.TrimSpace(r.SubLabel)
	title := strings.TrimSpace(r.Title)
	notes := strings.TrimSpace(r.Notes)

	o, overridden := c.overrides[r.EntityKey]
	if overridden {
		category = o.Category
		if o.SubLabel != "" {
			sub = o.SubLabel
		}
	}
	kind, resolved := c.Resolve(category)
	foldedTitle := fold(title)

	if resolved && kind == KindRelationship {
		if !c.relTag.In(ExtractTags(sub)) {
			sub = strings.TrimSpace(sub + " " + c.relTag.primary)
		}
		if !overridden {
			if title != "" && c.relMaint.Match(foldedTitle) {
				kind = KindMaintenance
			} else {
				kind = KindRecovery
			}
		}
	}
	if !overridden && resolved && kind == KindChores && title != "" &&
		c.meal.Match(foldedTitle) && !c.mealPrep.Match(foldedTitle) {
		kind = KindRecovery
	}

	tags := ExtractTags(sub)
	res := Result{
		Category:           category,
		SubLabel:           sub,
		Title:              title,
		Notes:              notes,
		Tags:               tags,
		HasRelationshipTag: c.relTag.In(tags),
		HasEmotionEvent:    c.emotionTag.In(tags),
		Attributes:         activity.Plain{},
	}
	if !resolved {
		return res
	}
	res.Kind = kind
	res.Category = string(kind)

	switch kind {
	case KindLearning:
		res.Attributes = c.learning(title)
	case KindProductivity:
		res.Attributes = productivity(tags)
	case KindChores:
		res.Title, res.Notes, res.Attributes = c.chores(title, notes)
	case KindExercise:
		res.Attributes = c.exercise(foldedTitle + " " + fold(sub))
	case KindRecovery:
		rec := activity.Recovery{
			RiskyRecharger: c.instantTag.In(tags) || c.risky.Match(foldedTitle),
		}
		if title != "" && c.meal.Match(foldedTitle) {
			rec.Meal = true
			res.Title = c.labels.Meal
		}
		res.Attributes = rec
	}
	return res
}

func (c *Classifier) learning(title string) activity.Attributes {
	i := strings.Index(title, c.delimiter)
	if i < 0 {
		return activity.Learning{}
	}
	l, err := activity.NewLearning(title[:i], title[i+len(c.delimiter):])
	if err != nil {
		return activity.Learning{}
	}
	return l
}

// chores moves a driving title into the notes and replaces it with the
// driving label. A title that already is the label is left alone.
func (c *Classifier) chores(title, notes string) (string, string, activity.Attributes) {
	driving := c.driving.Match(fold(title + " " + notes))
	if driving && title != "" && fold(title) != fold(c.labels.Driving) {
		if notes != "" {
			notes = title + " - " + notes
		} else {
			notes = title
		}
		title = c.labels.Driving
	}
	return title, notes, activity.Chores{Driving: driving}
}

func (c *Classifier) exercise(folded string) activity.Attributes {
	an, ae := c.anaerobic.Match(folded), c.aerobic.Match(folded)
	t := activity.ExerciseOther
	switch {
	case an && ae:
		t = activity.ExerciseMixed
	case an:
		t = activity.ExerciseAnaerobic
	case ae:
		t = activity.ExerciseAerobic
	}
	e, err := activity.NewExercise(t)
	if err != nil {
		return activity.Exercise{Type: activity.ExerciseOther}
	}
	return e
}

// productivity keeps the well-formed work tags.
func productivity(tags []string) activity.Attributes {
	p, err := activity.NewProductivity(tags)
	if err == nil {
		return p
	}
	var ok []string
	for _, t := range tags {
		if _, err := activity.NewProductivity([]string{t}); err == nil {
			ok = append(ok, t)
		}
	}
	p, _ = activity.NewProductivity(ok)
	return p
}
