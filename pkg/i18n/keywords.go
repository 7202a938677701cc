// Package i18n provides localization lookup and the multilingual keyword
// vocabulary used by stage fallbacks. The vocabulary is carried as data keyed
// by intent; matching is a normalized (lowercased, diacritic-folded)
// substring comparison so Ukrainian and English markers behave identically.
package i18n

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Intent identifies a vocabulary group used for keyword fallbacks.
type Intent string

const (
	// IntentAction — imperative verbs that indicate a task request.
	IntentAction Intent = "action"
	// IntentDev — markers for self-analysis / dev mode.
	IntentDev Intent = "dev"
	// IntentIntervention — explicit "fix yourself" intervention verbs.
	IntentIntervention Intent = "intervention"
	// IntentSuccess — explicit success wording in a verification reason.
	IntentSuccess Intent = "success"
	// IntentNegation — negation markers that cancel success wording.
	IntentNegation Intent = "negation"
	// IntentTransient — transient-failure vocabulary (timeout, network, loading).
	IntentTransient Intent = "transient"
	// IntentStructural — structural-failure vocabulary (not found, invalid, missing).
	IntentStructural Intent = "structural"
	// IntentFileCue — file/folder vocabulary for data-check derivation.
	IntentFileCue Intent = "file_cue"
	// IntentBrowserCue — browser/web vocabulary.
	IntentBrowserCue Intent = "browser_cue"
	// IntentAppCue — GUI application vocabulary.
	IntentAppCue Intent = "app_cue"
	// IntentSystemCue — shell/system vocabulary.
	IntentSystemCue Intent = "system_cue"
	// IntentLongRunning — compile/build/encode vocabulary (long-running calls).
	IntentLongRunning Intent = "long_running"
	// IntentNavigate — web navigation vocabulary.
	IntentNavigate Intent = "navigate"
	// IntentSearch — search/scrape vocabulary (forces step-by-step execution).
	IntentSearch Intent = "search"
	// IntentNumeric — arithmetic/numeric task vocabulary.
	IntentNumeric Intent = "numeric"
)

// vocabulary is the full multilingual keyword table. Some Ukrainian entries
// carry diacritic marks; Matches applies Fold to both the probed text and
// each entry, so both accented and plain spellings match.
var vocabulary = map[Intent][]string{
	IntentAction: {
		"create", "open", "run", "launch", "make", "write", "delete", "move",
		"copy", "install", "build", "download", "compute", "calculate", "find",
		"створи", "створити", "відкрий", "відкрити", "запусти", "запустити",
		"зроби", "зробити", "напиши", "видали", "перемісти", "скопіюй",
		"встанови", "збери", "завантаж", "обчисли", "порахуй", "знайди",
	},
	IntentDev: {
		"self-analysis", "self analysis", "analyze yourself", "your logs",
		"your code", "introspect", "самоаналіз", "проаналізуй себе",
		"свої логи", "свій код", "твої логи", "твій код",
	},
	IntentIntervention: {
		"fix yourself", "repair yourself", "modify your code", "patch yourself",
		"виправ себе", "полагодь себе", "зміни свій код", "онови свій код",
	},
	IntentSuccess: {
		"matches", "done", "completed", "success", "successful", "verified",
		"correct", "збігається", "виконано", "завершено", "успішно",
		"підтверджено", "правильно", "готово",
	},
	IntentNegation: {
		"does not", "doesn't", "not completed", "not done", "no match",
		"not match", "mismatch", "failed", "unable", "cannot", "не ",
		"відсутн", "не збігається", "не виконано", "не завершено", "помилка",
	},
	IntentTransient: {
		"timeout", "timed out", "network", "connection", "loading",
		"temporarily", "rate limit", "тайм-аут", "мережа", "з'єднання",
		"завантаження", "тимчасово",
	},
	IntentStructural: {
		"not found", "invalid", "missing", "does not exist", "no such",
		"unknown", "не знайдено", "невірний", "недійсний", "відсутній",
		"не існує", "невідомий",
	},
	IntentFileCue: {
		"file", "folder", "directory", "path", "файл", "папк", "каталог",
		"директор", "шлях",
	},
	IntentBrowserCue: {
		"browser", "page", "website", "url", "tab", "браузер", "сторінк",
		"сайт", "вкладк",
	},
	IntentAppCue: {
		"app", "application", "window", "calculator", "додаток", "застосунок",
		"вікно", "калькулятор", "програм",
	},
	IntentSystemCue: {
		"terminal", "shell", "command", "process", "system", "термінал",
		"команда", "процес", "систем",
	},
	IntentLongRunning: {
		"compile", "build", "encode", "render", "export", "generate video",
		"компілю", "збірк", "кодуванн", "рендер", "експорт",
	},
	IntentNavigate: {
		"navigate", "go to", "open page", "visit", "перейди", "перейти",
		"відкрий сторінку",
	},
	IntentSearch: {
		"search", "scrape", "crawl", "look up", "пошук", "знайди в",
		"шукай", "збери дані",
	},
	IntentNumeric: {
		"compute", "calculate", "sum", "multiply", "divide", "result",
		"обчисли", "порахуй", "сума", "множенн", "діленн", "результат",
	},
}

// foldTransformer strips combining marks after NFD decomposition, then
// recomposes. Lowercasing happens separately in Fold.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold normalizes text for vocabulary matching: lowercase + diacritic fold.
func Fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		// Transform failures (malformed UTF-8) fall back to plain lowercasing.
		return strings.ToLower(s)
	}
	return strings.ToLower(folded)
}

// Matches reports whether the text contains any keyword of the given intent.
func Matches(text string, intent Intent) bool {
	folded := Fold(text)
	for _, kw := range vocabulary[intent] {
		if strings.Contains(folded, Fold(kw)) {
			return true
		}
	}
	return false
}

// MatchesAll reports whether the text matches every one of the given intents.
func MatchesAll(text string, intents ...Intent) bool {
	for _, in := range intents {
		if !Matches(text, in) {
			return false
		}
	}
	return true
}

// Keywords returns a copy of the vocabulary for an intent.
func Keywords(intent Intent) []string {
	src := vocabulary[intent]
	out := make([]string, len(src))
	copy(out, src)
	return out
}
