package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cinesync/internal/tmdb"
)

func TestBuildPlanDeduplicatesCredits(t *testing.T) {
	movie := tmdb.Movie{
		ID:     1,
		Title:  "Dup",
		Genres: []tmdb.Genre{{ID: 2, Name: "B"}, {ID: 1, Name: "A"}, {ID: 2, Name: "B"}},
		Credits: tmdb.Credits{
			Cast: []tmdb.CastMember{
				{ID: 10, Name: "Twin", Character: "One", Order: 0},
				{ID: 10, Name: "Twin", Character: "One", Order: 0},
				{ID: 10, Name: "Twin", Character: "Two", Order: 1},
			},
			Crew: []tmdb.CrewMember{
				{ID: 20, Name: "Dir", Job: "director"},
				{ID: 20, Name: "Dir", Job: "Director"},
			},
		},
	}
	plan := BuildPlan(movie, 8, []string{"Director"})

	assert.Equal(t, []int64{1, 2}, plan.GenreIDs())
	assert.Len(t, plan.People, 2)
	assert.Len(t, plan.Credits, 4, "distinct (person, role, slot) triples survive")
}

func TestPlanHashIgnoresInputOrder(t *testing.T) {
	a := tmdb.Movie{ID: 1, Title: "T", Genres: []tmdb.Genre{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}}
	b := tmdb.Movie{ID: 1, Title: "T", Genres: []tmdb.Genre{{ID: 2, Name: "B"}, {ID: 1, Name: "A"}}}
	assert.Equal(t, BuildPlan(a, 8, nil).Hash(), BuildPlan(b, 8, nil).Hash())

	c := a
	c.Title = "Other"
	assert.NotEqual(t, BuildPlan(a, 8, nil).Hash(), BuildPlan(c, 8, nil).Hash())
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	locks := newKeyedMutex()
	unlockA := locks.Lock(1)
	unlockB := locks.Lock(2)
	assert.Equal(t, 2, locks.size())
	unlockA()
	unlockB()
	assert.Equal(t, 0, locks.size())
}
