package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_SearchModeTagsStripAndForceOrchestrate(t *testing.T) {
	c := New(DefaultWordLists())

	got := c.Classify("[websearch] latest Go release notes")
	assert.Equal(t, PathOrchestrate, got.Path)
	assert.Equal(t, SearchWeb, got.SearchMode)
	assert.Equal(t, "latest Go release notes", got.Message)

	got = c.Classify("[deepresearch] compare vector databases")
	assert.Equal(t, PathOrchestrate, got.Path)
	assert.Equal(t, SearchDeep, got.SearchMode)
	assert.Equal(t, "compare vector databases", got.Message)
}

func TestClassify_CasualPhraseIsChatOnlyWhenWholeMessage(t *testing.T) {
	c := New(DefaultWordLists())

	got := c.Classify("hello")
	assert.Equal(t, PathChat, got.Path)
	assert.Equal(t, SearchNone, got.SearchMode)

	// A casual phrase embedded in a longer task-bearing message does not
	// make the whole message casual.
	got = c.Classify("hello, run the build script")
	assert.Equal(t, PathOrchestrate, got.Path)
}

func TestClassify_TaskIndicatorTriggersOrchestrate(t *testing.T) {
	c := New(DefaultWordLists())

	got := c.Classify("please analyze this dataset")
	assert.Equal(t, PathOrchestrate, got.Path)

	got = c.Classify("crea un reporte de ventas")
	assert.Equal(t, PathOrchestrate, got.Path)
}

func TestClassify_CommandPatternTriggersOrchestrate(t *testing.T) {
	c := New(DefaultWordLists())

	got := c.Classify("ls -la in the repo")
	assert.Equal(t, PathOrchestrate, got.Path)
}

func TestClassify_DefaultsToChat(t *testing.T) {
	c := New(DefaultWordLists())

	got := c.Classify("what a nice day")
	assert.Equal(t, PathChat, got.Path)
	assert.Equal(t, SearchNone, got.SearchMode)
}

func TestClassify_EmptyWordListsNeverMatchTask(t *testing.T) {
	c := New(WordLists{})

	got := c.Classify("analyze and build the system")
	assert.Equal(t, PathChat, got.Path)
}
