// Package merge applies approved provider records to the catalog.
//
// Each record becomes a Plan (movie row, genres, people, credits) and is
// written in one catalog transaction under a per-movie lock. Credits and
// genre links are replaced wholesale; people are inserted only when unknown.
// A content hash stored on the movie row makes re-applying identical content
// a no-op.
package merge
