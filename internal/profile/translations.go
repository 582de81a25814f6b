package profile

import (
	"bufio"
	"encoding/json"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pspoerri/geo2mbtiles/internal/perr"
)

// translationCacheSize bounds Translations' resident memory independent of
// how many QIDs the backing cache file accumulates across runs — a planet-
// scale Wikidata label cache file can hold millions of records, but only a
// working set needs to stay resident for one batch run.
const translationCacheSize = 200_000

// wikidataRecord is one line of the newline-delimited JSON cache format:
// {"qid": "...", "labels": {"en": "...", "de": "..."}}.
type wikidataRecord struct {
	QID    string            `json:"qid"`
	Labels map[string]string `json:"labels"`
}

// Translations resolves a name in the best available language from a set
// of preferred languages, backed by an optional Wikidata label cache. It is
// constructed before the Profile and injected into it — the one-way
// dependency that breaks the cycle a Profile consulting Translations which
// in turn would need the Profile's language preferences would otherwise
// create.
type Translations struct {
	languages []string // preference order, most preferred first

	cache *lru.Cache[string, map[string]string] // qid -> lang -> label
	path  string
}

// NewTranslations returns a Translations preferring languages in order.
func NewTranslations(languages []string) *Translations {
	cache, err := lru.New[string, map[string]string](translationCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// translationCacheSize never is.
		panic(err)
	}
	return &Translations{
		languages: languages,
		cache:     cache,
	}
}

// Load reads an existing newline-delimited JSON cache file, if present. A
// missing file is not an error — the cache simply starts empty.
func (t *Translations) Load(path string) error {
	t.path = path
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return perr.New(perr.IoFailure, "profile.Translations.Load", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec wikidataRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // skip malformed lines rather than abort the whole cache load
		}
		t.cache.Add(rec.QID, rec.Labels)
	}
	if err := sc.Err(); err != nil {
		return perr.New(perr.IoFailure, "profile.Translations.Load", err)
	}
	return nil
}

// Put records labels for a QID and appends the record to the cache file if
// one was configured via Load, so subsequent runs reuse the fetch.
func (t *Translations) Put(qid string, labels map[string]string) error {
	t.cache.Add(qid, labels)
	path := t.path

	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return perr.New(perr.IoFailure, "profile.Translations.Put", err)
	}
	defer f.Close()

	b, err := json.Marshal(wikidataRecord{QID: qid, Labels: labels})
	if err != nil {
		return perr.New(perr.Internal, "profile.Translations.Put", err)
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		return perr.New(perr.IoFailure, "profile.Translations.Put", err)
	}
	return nil
}

// Name returns the best available label for qid in the configured language
// preference order, or fallback if no cached label matches.
func (t *Translations) Name(qid, fallback string) string {
	labels, ok := t.cache.Get(qid)
	if !ok {
		return fallback
	}
	for _, lang := range t.languages {
		if v, ok := labels[lang]; ok && v != "" {
			return v
		}
	}
	return fallback
}

// Languages returns the configured language preference order.
func (t *Translations) Languages() []string { return t.languages }
