package ratelimiter

import (
	"time"
)

const (
	DefaultRecipientRate = time.Second
	maxTrackedRecipients = 1000
)
