// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is shared by the sync workers when talking to the sync service.
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}
