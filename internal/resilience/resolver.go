package resilience

import (
	"time"

	"github.com/kalambet/lecturelens/internal/docstore"
)

// Resolver picks the surviving copy when a document exists in both stores
// and the local copy is pending sync.
type Resolver func(local, remote docstore.Document) docstore.Document

// LastWriteWins keeps the copy with the later last_updated timestamp
// (created_at when last_updated is absent). Ties and unparseable timestamps
// keep the local copy, which holds the most recent write the caller made.
func LastWriteWins(local, remote docstore.Document) docstore.Document {
	lt, lok := documentTime(local)
	rt, rok := documentTime(remote)
	if rok && (!lok || rt.After(lt)) {
		return remote
	}
	return local
}

func documentTime(doc docstore.Document) (time.Time, bool) {
	for _, key := range []string{"last_updated", "created_at"} {
		s := doc.String(key)
		if s == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
