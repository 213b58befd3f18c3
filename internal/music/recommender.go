package music

import (
	"context"
	"fmt"
	"html"
	"math/rand/v2"

	"heartpsalm/backend/internal/logging"
)

const (
	NoSongFound      = "Sorry, I couldn't find a gospel song for that emotion."
	searchErrPrefix  = "Error searching for a song: "
	defaultSongLimit = 20
)

// Recommender turns an emotion keyword into a ready-to-display reply. It
// never fails: catalog errors become the reply text.
type Recommender struct {
	catalog Catalog
	limit   int
	pick    func(n int) int
}

func NewRecommender(catalog Catalog, limit int) *Recommender {
	if limit <= 0 {
		limit = defaultSongLimit
	}
	return &Recommender{catalog: catalog, limit: limit, pick: rand.IntN}
}

func (r *Recommender) Recommend(ctx context.Context, emotion string) string {
	tracks, err := r.catalog.SearchTracks(ctx, "gospel "+emotion, r.limit)
	if err != nil {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Str("emotion", emotion).Msg("song search failed")
		return searchErrPrefix + err.Error()
	}
	if len(tracks) == 0 {
		return NoSongFound
	}

	song := tracks[r.pick(len(tracks))]
	return fmt.Sprintf(
		`<div>I found a gospel song for you: <strong>'%s'</strong> by <em>%s</em>. `+
			`<a href="%s" target="_blank" class="spotify-btn"><i class="fab fa-spotify"></i> Listen on Spotify</a></div>`,
		html.EscapeString(song.Name),
		html.EscapeString(song.Artist),
		html.EscapeString(song.URL),
	)
}
