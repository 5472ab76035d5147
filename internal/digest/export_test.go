package digest

import "time"

func SetNow(b *Builder, now func() time.Time) {
	b.now = now
}
