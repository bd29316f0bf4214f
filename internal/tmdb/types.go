package tmdb

// Genre is a provider genre reference.
type Genre struct {
	ID   int64  `json:"id" yaml:"id" validate:"required,gt=0"`
	Name string `json:"name" yaml:"name"`
}

// CastMember is one billed cast credit.
type CastMember struct {
	ID                 int64  `json:"id" yaml:"id" validate:"required,gt=0"`
	Name               string `json:"name" yaml:"name" validate:"required"`
	Character          string `json:"character" yaml:"character"`
	Order              int    `json:"order" yaml:"order" validate:"gte=0"`
	Gender             int    `json:"gender" yaml:"gender"`
	ProfilePath        string `json:"profile_path" yaml:"profile_path,omitempty"`
	KnownForDepartment string `json:"known_for_department" yaml:"known_for_department,omitempty"`
}

// CrewMember is one crew credit.
type CrewMember struct {
	ID                 int64  `json:"id" yaml:"id" validate:"required,gt=0"`
	Name               string `json:"name" yaml:"name" validate:"required"`
	Department         string `json:"department" yaml:"department"`
	Job                string `json:"job" yaml:"job"`
	Gender             int    `json:"gender" yaml:"gender"`
	ProfilePath        string `json:"profile_path" yaml:"profile_path,omitempty"`
	KnownForDepartment string `json:"known_for_department" yaml:"known_for_department,omitempty"`
}

// Credits groups the cast and crew appended to a movie detail response.
type Credits struct {
	Cast []CastMember `json:"cast" yaml:"cast" validate:"dive"`
	Crew []CrewMember `json:"crew" yaml:"crew" validate:"dive"`
}

// Movie is a validated movie detail snapshot including credits.
type Movie struct {
	ID               int64   `json:"id" yaml:"id" validate:"required,gt=0"`
	IMDbID           string  `json:"imdb_id" yaml:"imdb_id,omitempty"`
	Title            string  `json:"title" yaml:"title" validate:"required"`
	OriginalTitle    string  `json:"original_title" yaml:"original_title,omitempty"`
	OriginalLanguage string  `json:"original_language" yaml:"original_language,omitempty"`
	Overview         string  `json:"overview" yaml:"overview,omitempty"`
	Tagline          string  `json:"tagline" yaml:"tagline,omitempty"`
	Status           string  `json:"status" yaml:"status,omitempty"`
	ReleaseDate      string  `json:"release_date" yaml:"release_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Runtime          int     `json:"runtime" yaml:"runtime,omitempty" validate:"gte=0"`
	Budget           int64   `json:"budget" yaml:"budget,omitempty" validate:"gte=0"`
	Revenue          int64   `json:"revenue" yaml:"revenue,omitempty" validate:"gte=0"`
	Popularity       float64 `json:"popularity" yaml:"popularity,omitempty" validate:"gte=0"`
	VoteAverage      float64 `json:"vote_average" yaml:"vote_average,omitempty" validate:"gte=0,lte=10"`
	VoteCount        int64   `json:"vote_count" yaml:"vote_count,omitempty" validate:"gte=0"`
	PosterPath       string  `json:"poster_path" yaml:"poster_path,omitempty"`
	BackdropPath     string  `json:"backdrop_path" yaml:"backdrop_path,omitempty"`
	Adult            bool    `json:"adult" yaml:"adult"`
	Genres           []Genre `json:"genres" yaml:"genres" validate:"dive"`
	Credits          Credits `json:"credits" yaml:"credits"`
}

// Summary is a listing or search entry.
type Summary struct {
	ID            int64   `json:"id" validate:"required,gt=0"`
	Title         string  `json:"title"`
	OriginalTitle string  `json:"original_title"`
	ReleaseDate   string  `json:"release_date"`
	Overview      string  `json:"overview"`
	Adult         bool    `json:"adult"`
	Popularity    float64 `json:"popularity"`
	VoteAverage   float64 `json:"vote_average"`
	VoteCount     int64   `json:"vote_count"`
}

// ListPage models a paginated discover or search response.
type ListPage struct {
	Page         int       `json:"page" validate:"gte=0"`
	TotalPages   int       `json:"total_pages" validate:"gte=0"`
	TotalResults int       `json:"total_results" validate:"gte=0"`
	Results      []Summary `json:"results" validate:"dive"`
}

// ChangedEntry is one id in the provider changelog.
type ChangedEntry struct {
	ID    int64 `json:"id" validate:"required,gt=0"`
	Adult *bool `json:"adult"`
}

// ChangesPage models a paginated changelog response.
type ChangesPage struct {
	Page         int            `json:"page" validate:"gte=0"`
	TotalPages   int            `json:"total_pages" validate:"gte=0"`
	TotalResults int            `json:"total_results" validate:"gte=0"`
	Results      []ChangedEntry `json:"results" validate:"dive"`
}
