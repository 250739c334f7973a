package quiz

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"psp.com/species-quiz/backend/internal/species"
)

// ImageResolver finds a display URL for a species. An empty URL with a nil
// error means no image is known.
type ImageResolver interface {
	Find(ctx context.Context, scientificName string) (string, error)
	MarkBad(scientificName, url string)
}

type Tally struct {
	Correct int `json:"correct"`
	Wrong   int `json:"wrong"`
}

func (t Tally) Total() int { return t.Correct + t.Wrong }

// Image is what the player should currently see next to the question.
type Image struct {
	Generation  uint64 `json:"generation"`
	URL         string `json:"url"`
	Placeholder bool   `json:"placeholder"`
	Loading     bool   `json:"loading"`
}

// Question is the player-facing view of the current question. It never
// carries the values of eligible fields.
type Question struct {
	ID         string            `json:"id"`
	Generation uint64            `json:"generation"`
	Eligible   []string          `json:"eligible"`
	Disabled   []string          `json:"disabled"`
	Clues      map[string]string `json:"clues"`
	Message    string            `json:"message,omitempty"`
}

type FieldResult struct {
	Submitted string `json:"submitted"`
	Correct   bool   `json:"correct"`
}

type Result struct {
	Correct  bool                   `json:"correct"`
	PerField map[string]FieldResult `json:"perField"`
	Expected map[string]string      `json:"expected,omitempty"`
	Message  string                 `json:"message"`
	Tally    Tally                  `json:"tally"`
}

// Miss records a wrongly answered question for the session report.
type Miss struct {
	Generation uint64
	Name       string
	Fields     []string
	Expected   map[string]string
}

// Session is the single quiz session: current record, eligibility, tally,
// generation counter and the displayed image.
type Session struct {
	mu sync.Mutex

	ctx          context.Context
	log          *logrus.Entry
	data         *species.Collection
	rng          *rand.Rand
	images       ImageResolver
	sciField     string
	placeholder  string
	imageTimeout time.Duration
	showImages   bool

	toggles     map[string]bool
	filterField string
	filterValue string

	current    species.Record
	question   Question
	submitted  map[string]string
	message    string
	reveals    map[string]int
	tally      Tally
	generation uint64
	image      Image
	misses     []Miss

	listeners    map[int]func(Image)
	nextListener int
}

type Option func(*Session)

func WithImages(r ImageResolver) Option { return func(s *Session) { s.images = r } }

func WithScientificField(f string) Option { return func(s *Session) { s.sciField = f } }

func WithPlaceholder(url string) Option { return func(s *Session) { s.placeholder = url } }

func WithImageTimeout(d time.Duration) Option { return func(s *Session) { s.imageTimeout = d } }

func WithShowImages(show bool) Option { return func(s *Session) { s.showImages = show } }

// WithContext sets the parent context of image lookups; cancel it on shutdown.
func WithContext(ctx context.Context) Option { return func(s *Session) { s.ctx = ctx } }

func WithLogger(l *logrus.Entry) Option { return func(s *Session) { s.log = l } }

func WithSeed(seed int64) Option { return func(s *Session) { s.rng = newRand(seed) } }

// NewSession creates the session over data. A nil or empty collection gives an
// unplayable session: Next fails with ErrNoData.
func NewSession(data *species.Collection, opts ...Option) *Session {
	s := &Session{
		ctx:          context.Background(),
		log:          logrus.WithField("component", "quiz"),
		data:         data,
		rng:          newRand(time.Now().UnixNano()),
		sciField:     species.DefaultScientificField,
		imageTimeout: 15 * time.Second,
		showImages:   true,
		toggles:      map[string]bool{},
		submitted:    map[string]string{},
		reveals:      map[string]int{},
		listeners:    map[int]func(Image){},
	}
	for _, o := range opts {
		o(s)
	}
	if data != nil {
		for _, f := range data.Fields {
			s.toggles[f] = true
		}
	}
	if data.Len() == 0 {
		s.message = MsgNoData
	}
	return s
}

// Next picks a new question. Image resolution for it starts only after the
// question is fully set up, and its result is dropped if another question has
// been picked in the meantime.
// Next may be called at any time; an ungraded question is simply skipped.
func (s *Session) Next() (Question, error) {
	s.mu.Lock()
	if s.data.Len() == 0 {
		s.message = MsgNoData
		s.mu.Unlock()
		return Question{}, ErrNoData
	}
	rec, err := PickRecord(s.rng, s.pool())
	if err != nil {
		// The generation still moves on so a lookup for the previous
		// question cannot land while nothing is on display.
		s.generation++
		s.current = nil
		s.question = Question{}
		s.message = MsgNoMatches
		s.image = Image{Generation: s.generation, URL: s.placeholder, Placeholder: true}
		img := s.image
		s.mu.Unlock()
		s.publish(img)
		return Question{}, ErrNoMatches
	}

	s.generation++
	s.current = rec
	s.submitted = map[string]string{}
	s.reveals = map[string]int{}
	s.message = ""
	s.question = Question{ID: uuid.NewString(), Generation: s.generation}
	s.refreshEligibility()

	gen := s.generation
	name := rec.Value(s.sciField)
	dispatch := s.resetImage(gen, name)
	q := s.question.clone()
	img := s.image
	s.mu.Unlock()

	if dispatch {
		go s.resolveImage(gen, name)
	} else {
		s.publish(img)
	}
	return q, nil
}

// pool returns the records that pass the active filter.
func (s *Session) pool() []species.Record {
	if s.filterField == "" {
		return s.data.Records
	}
	want := Normalize(s.filterValue)
	return s.data.Where(func(r species.Record) bool {
		return Normalize(r.Value(s.filterField)) == want
	})
}

// refreshEligibility recomputes the current question's fields from the user
// toggles. Called with s.mu held.
func (s *Session) refreshEligibility() {
	s.question.Eligible = EligibleFields(s.data.Fields, s.toggles, s.current)
	s.question.Disabled = BlankFields(s.data.Fields, s.toggles, s.current)

	quizzed := map[string]bool{}
	for _, f := range s.question.Eligible {
		quizzed[f] = true
	}
	s.question.Clues = map[string]string{}
	for _, f := range s.data.Fields {
		if !quizzed[f] && !s.current.Blank(f) {
			s.question.Clues[f] = s.current.Value(f)
		}
	}

	s.question.Message = ""
	if len(s.question.Eligible) == 0 {
		s.message = MsgSelectField
		s.question.Message = MsgSelectField
	}
}

// resetImage sets the loading state for a new question and reports whether a
// lookup should be dispatched. Called with s.mu held.
func (s *Session) resetImage(gen uint64, name string) bool {
	if s.images == nil || !s.showImages || species.IsBlank(name) {
		s.image = Image{Generation: gen, URL: s.placeholder, Placeholder: true}
		return false
	}
	s.image = Image{Generation: gen, URL: s.placeholder, Placeholder: true, Loading: true}
	return true
}

func (s *Session) resolveImage(gen uint64, name string) {
	log := s.log.WithFields(logrus.Fields{"species": name, "generation": gen})

	ctx, cancel := context.WithTimeout(s.ctx, s.imageTimeout)
	defer cancel()
	url, err := s.images.Find(ctx, name)
	if err != nil {
		log.WithError(err).Warn("image lookup failed, using placeholder")
		url = ""
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		log.Debug("discarding image for superseded question")
		return
	}
	if !s.showImages {
		s.mu.Unlock()
		log.Debug("discarding image, images are turned off")
		return
	}
	img := Image{Generation: gen, URL: url}
	if url == "" {
		img = Image{Generation: gen, URL: s.placeholder, Placeholder: true}
	}
	s.image = img
	s.mu.Unlock()

	s.publish(img)
}

// Grade compares submitted answers with the current record. Every call that
// reaches a verdict moves exactly one counter of the tally.
func (s *Session) Grade(submitted map[string]string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		s.message = MsgNoQuestion
		return Result{}, ErrNoQuestion
	}
	if len(s.question.Eligible) == 0 {
		s.message = MsgNoFieldGrade
		return Result{}, ErrNoEligibleFields
	}

	var res Result
	res.Correct, res.PerField = Compare(s.question.Eligible, submitted, s.current)
	s.submitted = map[string]string{}
	for f, r := range res.PerField {
		s.submitted[f] = r.Submitted
	}

	if res.Correct {
		s.tally.Correct++
		res.Message = MsgCorrect
	} else {
		s.tally.Wrong++
		res.Expected = map[string]string{}
		lines := []string{MsgWrong}
		for _, f := range s.question.Eligible {
			res.Expected[f] = s.current.Value(f)
			lines = append(lines, f+": "+s.current.Value(f))
		}
		res.Message = strings.Join(lines, "\n")
		s.misses = append(s.misses, Miss{
			Generation: s.generation,
			Name:       s.displayName(),
			Fields:     append([]string(nil), s.question.Eligible...),
			Expected:   res.Expected,
		})
	}
	s.message = res.Message
	res.Tally = s.tally
	return res, nil
}

// Compare grades submitted against rec on the eligible fields. The answer is
// correct only if every field matches after normalization.
func Compare(eligible []string, submitted map[string]string, rec species.Record) (bool, map[string]FieldResult) {
	correct := true
	per := make(map[string]FieldResult, len(eligible))
	for _, f := range eligible {
		got := submitted[f]
		ok := Normalize(got) == Normalize(rec.Value(f))
		per[f] = FieldResult{Submitted: got, Correct: ok}
		if !ok {
			correct = false
		}
	}
	return correct, per
}

func (s *Session) displayName() string {
	if !s.current.Blank(s.sciField) {
		return s.current.Value(s.sciField)
	}
	for _, f := range s.data.Fields {
		if !s.current.Blank(f) {
			return s.current.Value(f)
		}
	}
	return ""
}

// SetEnabled records the user's choice for field. It applies to the current
// question right away, but a field that is blank on the current record stays
// disabled until the next question.
func (s *Session) SetEnabled(field string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.data.HasField(field) {
		return ErrUnknownField
	}
	s.toggles[field] = enabled
	if s.current != nil {
		s.refreshEligibility()
		s.submitted = map[string]string{}
		if len(s.question.Eligible) > 0 {
			s.message = ""
		}
	}
	return nil
}

// SetFilter restricts picking to records whose field matches value. An empty
// field or value clears the filter.
func (s *Session) SetFilter(field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if field == "" || species.IsBlank(value) {
		s.filterField, s.filterValue = "", ""
		return nil
	}
	if !s.data.HasField(field) {
		return ErrUnknownField
	}
	s.filterField, s.filterValue = field, value
	return nil
}

// Reveal returns the answer for an eligible field with one more letter shown
// than the previous call for this question.
func (s *Session) Reveal(field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return "", ErrNoQuestion
	}
	if !contains(s.question.Eligible, field) {
		return "", ErrFieldNotEligible
	}
	s.reveals[field]++
	return RevealPrefix(s.current.Value(field), s.reveals[field]), nil
}

// HintTarget returns the scientific name of the current record and the answers
// a hint must not give away.
func (s *Session) HintTarget() (string, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return "", nil, ErrNoQuestion
	}
	var answers []string
	for _, f := range s.question.Eligible {
		answers = append(answers, s.current.Value(f))
	}
	return s.current.Value(s.sciField), answers, nil
}

// SetShowImages turns image lookups on or off. Turning them on while a
// question is loaded fetches an image for it; turning them off drops any
// lookup still running.
func (s *Session) SetShowImages(show bool) Image {
	s.mu.Lock()
	s.showImages = show
	if !show && s.image.Loading {
		s.image = Image{Generation: s.generation, URL: s.placeholder, Placeholder: true}
		img := s.image
		s.mu.Unlock()
		s.publish(img)
		return img
	}
	if !show || s.current == nil {
		img := s.image
		s.mu.Unlock()
		return img
	}
	gen := s.generation
	name := s.current.Value(s.sciField)
	dispatch := s.resetImage(gen, name)
	img := s.image
	s.mu.Unlock()

	if dispatch {
		go s.resolveImage(gen, name)
	}
	return img
}

// ReportImageFailure marks url as bad for the current species and falls back
// to the placeholder when it is the image on display.
func (s *Session) ReportImageFailure(url string) Image {
	s.mu.Lock()
	if s.current == nil || url == "" {
		img := s.image
		s.mu.Unlock()
		return img
	}
	name := s.current.Value(s.sciField)
	changed := false
	if s.image.URL == url && !s.image.Placeholder {
		s.image = Image{Generation: s.generation, URL: s.placeholder, Placeholder: true}
		changed = true
	}
	img := s.image
	s.mu.Unlock()

	if s.images != nil && !species.IsBlank(name) {
		s.images.MarkBad(name, url)
	}
	s.log.WithFields(logrus.Fields{"species": name, "url": url}).Info("image failed to load")
	if changed {
		s.publish(img)
	}
	return img
}

// Subscribe registers fn for image updates of the current question. The
// returned func removes it.
func (s *Session) Subscribe(fn func(Image)) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) publish(img Image) {
	s.mu.Lock()
	fns := make([]func(Image), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(img)
	}
}

// Current returns the current question, if any.
func (s *Session) Current() (Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Question{}, false
	}
	return s.question.clone(), true
}

func (s *Session) EligibleFields() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.question.Eligible...)
}

func (s *Session) Tally() Tally {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tally
}

func (s *Session) Image() Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}

func (s *Session) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Session) Submitted() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.submitted))
	for k, v := range s.submitted {
		out[k] = v
	}
	return out
}

func (s *Session) Misses() []Miss {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Miss(nil), s.misses...)
}

// Fields returns all field names in order.
func (s *Session) Fields() []string {
	if s.data == nil {
		return []string{}
	}
	return append([]string{}, s.data.Fields...)
}

// FieldValues lists the distinct values of field for choosing a filter.
func (s *Session) FieldValues(field string) ([]species.ValueCount, error) {
	if !s.data.HasField(field) {
		return nil, ErrUnknownField
	}
	return s.data.Values(field), nil
}

// Toggles returns a copy of the user's field choices.
func (s *Session) Toggles() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.toggles))
	for k, v := range s.toggles {
		out[k] = v
	}
	return out
}

// Filter returns the active filter, or two empty strings.
func (s *Session) Filter() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterField, s.filterValue
}

func (s *Session) ShowImages() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.showImages
}

func (q Question) clone() Question {
	c := q
	c.Eligible = append([]string{}, q.Eligible...)
	c.Disabled = append([]string{}, q.Disabled...)
	c.Clues = make(map[string]string, len(q.Clues))
	for k, v := range q.Clues {
		c.Clues[k] = v
	}
	return c
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
