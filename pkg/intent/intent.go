// Package intent implements the Intent Classifier: a deterministic,
// synchronous decision of whether an incoming message is casual chat, a
// forced search mode, or a task requiring full orchestration.
//
// The default word lists are seeded from the bilingual (English/Spanish)
// casual-phrase and task-indicator lists found in the reference
// implementation's is_task_requiring_tools (original_source's
// agent_routes_backup.py) — carried forward as declared configuration per
// spec.md §4.2/§5.2 ("the word lists are a declared configuration, not
// code"), not hardwired logic.
package intent

import "strings"

// SearchMode is the typed replacement for the source's string-tag search
// modes (spec.md §9's re-architecture note: "no tag strings propagate past
// classification").
type SearchMode string

const (
	SearchNone SearchMode = "none"
	SearchWeb  SearchMode = "web"
	SearchDeep SearchMode = "deep"
)

// Path is the routing decision the orchestrator acts on.
type Path string

const (
	PathChat         Path = "chat"
	PathOrchestrate  Path = "orchestrate"
)

// Classification is the result of classifying one message.
type Classification struct {
	Path       Path
	SearchMode SearchMode
	// Message is the normalized message with any search-mode tag prefix
	// stripped.
	Message string
}

// WordLists is the declared configuration the classifier runs against. A
// zero-value WordLists is usable via DefaultWordLists().
type WordLists struct {
	// CasualPhrases are exact matches (after trim+lowercase) that classify
	// as casual-only chat when they are the *entire* message.
	CasualPhrases []string
	// TaskIndicators are substrings whose presence anywhere in the
	// normalized message signals a task.
	TaskIndicators []string
	// CommandPatterns are shell-like substrings that signal a task.
	CommandPatterns []string
	// WorkPatterns are additional phrase substrings that signal a task.
	WorkPatterns []string
}

const (
	webSearchTag  = "[websearch]"
	deepResearchTag = "[deepresearch]"
)

// Classifier classifies incoming messages. Stateless and safe for
// concurrent use.
type Classifier struct {
	words WordLists
}

// New creates a Classifier with the given word lists. Pass
// DefaultWordLists() for the seeded bilingual defaults.
func New(words WordLists) *Classifier {
	return &Classifier{words: words}
}

// Classify decides the path for an incoming message. Deterministic and
// synchronous; no LLM call is made.
func (c *Classifier) Classify(message string) Classification {
	trimmed := strings.TrimSpace(message)
	lower := strings.ToLower(trimmed)

	// 2. Search mode prefix: literal leading tags strip and force the tool.
	if strings.HasPrefix(lower, webSearchTag) {
		rest := strings.TrimSpace(trimmed[len(webSearchTag):])
		return Classification{Path: PathOrchestrate, SearchMode: SearchWeb, Message: rest}
	}
	if strings.HasPrefix(lower, deepResearchTag) {
		rest := strings.TrimSpace(trimmed[len(deepResearchTag):])
		return Classification{Path: PathOrchestrate, SearchMode: SearchDeep, Message: rest}
	}

	// 1. Casual-only: exact match against the closed phrase set.
	for _, phrase := range c.words.CasualPhrases {
		if lower == strings.ToLower(phrase) {
			return Classification{Path: PathChat, SearchMode: SearchNone, Message: trimmed}
		}
	}

	// 3. Task indicator: lexical presence of action verbs/command patterns.
	if containsAny(lower, c.words.TaskIndicators) ||
		containsAny(lower, c.words.CommandPatterns) ||
		containsAny(lower, c.words.WorkPatterns) {
		return Classification{Path: PathOrchestrate, SearchMode: SearchNone, Message: trimmed}
	}

	// 4. Default: chat.
	return Classification{Path: PathChat, SearchMode: SearchNone, Message: trimmed}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// DefaultWordLists returns the bilingual defaults seeded from the
// reference implementation.
func DefaultWordLists() WordLists {
	return WordLists{
		CasualPhrases: []string{
			"hola", "hello", "hi", "buenos días", "buenas tardes", "buenas noches",
			"gracias", "thank you", "thanks", "de nada", "por favor",
			"qué tal", "cómo estás", "how are you", "adiós", "bye", "hasta luego",
			"cómo te llamas", "what is your name", "quien eres", "who are you",
		},
		TaskIndicators: []string{
			"ejecuta", "ejecutar", "run", "comando", "command",
			"analiza", "analizar", "analyze", "procesa", "procesar",
			"busca", "buscar", "search", "encuentra", "encontrar",
			"crea", "crear", "create", "genera", "generar", "generate", "modifica", "modificar",
			"haz", "hacer", "do", "make", "build", "construye", "construir",
			"desarrolla", "desarrollar", "develop", "programa", "programar",
			"lista", "listar", "list", "mostrar archivos", "show files",
			"descarga", "descargar", "download", "sube", "subir", "upload",
			"investiga", "investigar", "research", "explora", "explorar",
			"informe", "report", "reporte", "estudio", "study", "análisis",
			"verifica", "verificar", "check", "monitorea", "monitorear", "instala", "instalar",
		},
		CommandPatterns: []string{
			"ls ", "cd ", "pwd", "ps ", "mkdir", "rm ", "cp ", "mv ", "chmod", "grep",
		},
		WorkPatterns: []string{
			"web sobre", "sitio web", "website", "aplicación", "app",
			"base de datos", "database", "sistema", "system",
		},
	}
}
