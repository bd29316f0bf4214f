package merge

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"

	"cinesync/internal/catalog"
	"cinesync/internal/tmdb"
)

// Plan is the normalized set of rows one provider record produces.
type Plan struct {
	Movie   tmdb.Movie       `json:"movie"`
	Genres  []catalog.Genre  `json:"genres"`
	People  []catalog.Person `json:"people"`
	Credits []catalog.Credit `json:"credits"`
}

// BuildPlan normalizes a movie payload: genres deduplicated, cast cut to the
// castLimit lowest billing orders, crew kept only for whitelisted jobs, and
// credits unique on (person, role, slot).
func BuildPlan(movie tmdb.Movie, castLimit int, crewJobs []string) Plan {
	plan := Plan{Movie: movie}
	plan.Movie.Genres = nil
	plan.Movie.Credits = tmdb.Credits{}

	seenGenre := make(map[int64]struct{}, len(movie.Genres))
	for _, g := range movie.Genres {
		if _, ok := seenGenre[g.ID]; ok {
			continue
		}
		seenGenre[g.ID] = struct{}{}
		plan.Genres = append(plan.Genres, catalog.Genre{ID: g.ID, Name: g.Name})
	}
	slices.SortFunc(plan.Genres, func(a, b catalog.Genre) int { return cmp.Compare(a.ID, b.ID) })

	people := make(map[int64]catalog.Person)
	var order []int64
	addPerson := func(p catalog.Person) {
		if _, ok := people[p.ID]; ok {
			return
		}
		people[p.ID] = p
		order = append(order, p.ID)
	}
	type creditKey struct {
		person int64
		role   string
		slot   string
	}
	seenCredit := make(map[creditKey]struct{})

	cast := slices.Clone(movie.Credits.Cast)
	slices.SortStableFunc(cast, func(a, b tmdb.CastMember) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	kept := 0
	for _, member := range cast {
		if castLimit > 0 && kept >= castLimit {
			break
		}
		key := creditKey{member.ID, catalog.RoleCast, member.Character}
		if _, ok := seenCredit[key]; ok {
			continue
		}
		seenCredit[key] = struct{}{}
		addPerson(catalog.Person{
			ID:                 member.ID,
			Name:               member.Name,
			ProfilePath:        member.ProfilePath,
			Gender:             member.Gender,
			KnownForDepartment: member.KnownForDepartment,
		})
		plan.Credits = append(plan.Credits, catalog.Credit{
			MovieID:       movie.ID,
			PersonID:      member.ID,
			Role:          catalog.RoleCast,
			Slot:          member.Character,
			CharacterName: member.Character,
			CreditOrder:   member.Order,
		})
		kept++
	}

	jobs := make(map[string]struct{}, len(crewJobs))
	for _, job := range crewJobs {
		jobs[strings.ToLower(strings.TrimSpace(job))] = struct{}{}
	}
	crewOrder := 0
	for _, member := range movie.Credits.Crew {
		if _, ok := jobs[strings.ToLower(strings.TrimSpace(member.Job))]; !ok {
			continue
		}
		key := creditKey{member.ID, catalog.RoleCrew, member.Job}
		if _, ok := seenCredit[key]; ok {
			continue
		}
		seenCredit[key] = struct{}{}
		addPerson(catalog.Person{
			ID:                 member.ID,
			Name:               member.Name,
			ProfilePath:        member.ProfilePath,
			Gender:             member.Gender,
			KnownForDepartment: member.KnownForDepartment,
		})
		plan.Credits = append(plan.Credits, catalog.Credit{
			MovieID:     movie.ID,
			PersonID:    member.ID,
			Role:        catalog.RoleCrew,
			Slot:        member.Job,
			Department:  member.Department,
			Job:         member.Job,
			CreditOrder: crewOrder,
		})
		crewOrder++
	}

	for _, id := range order {
		plan.People = append(plan.People, people[id])
	}
	slices.SortFunc(plan.People, func(a, b catalog.Person) int { return cmp.Compare(a.ID, b.ID) })
	return plan
}

// Hash fingerprints the plan. Equal payloads hash equally regardless of the
// order genres or people arrived in.
func (p Plan) Hash() string {
	data, err := json.Marshal(p)
	if err != nil {
		// Plan holds only plain values; Marshal cannot fail on it.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// GenreIDs returns the plan's genre ids in ascending order.
func (p Plan) GenreIDs() []int64 {
	ids := make([]int64, 0, len(p.Genres))
	for _, g := range p.Genres {
		ids = append(ids, g.ID)
	}
	return ids
}
