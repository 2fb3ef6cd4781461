package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func New() string {
	return uuid.NewString()
}

// Valid reports whether id is a canonical 36-character UUID.
func Valid(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func DocNo(docType string, day time.Time, seq int64) string {
	return fmt.Sprintf("ST-%s-%s-%05d", strings.ToUpper(docType), day.UTC().Format("20060102"), seq)
}

func LotNo(expiry time.Time) string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("L%s-%06d", expiry.UTC().Format("20060102"), time.Now().UnixNano()%1000000)
	}
	return fmt.Sprintf("L%s-%s", expiry.UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(buf)))
}
