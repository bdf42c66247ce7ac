package shard

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"golang.org/x/crypto/sha3"
)

const pathDayLayout = "20060102"

// ContentHash is SHAKE-128 over the report ids of the rows in append order, read
// out to 8 bytes and rendered as 16 hex characters.
func ContentHash(rows []*types.LookupRow) string {
	h := sha3.NewShake128()
	for _, r := range rows {
		h.Write([]byte(r.ReportID))
	}
	sum := make([]byte, 8)
	h.Read(sum)
	return hex.EncodeToString(sum)
}

// DestinationPath is the published object key of a finalized shard.
func DestinationPath(key types.ShardKey, day time.Time, hash string) string {
	ts := day.Format(pathDayLayout)
	return fmt.Sprintf("jsonl/%s/%s/%s/00/%s_%s_%s.x.%s.jsonl.gz", key.Test, key.Country, ts, ts, key.Country, key.Test, hash)
}

// LocalName is the provisional file name of the seq-th shard opened for key.
func LocalName(key types.ShardKey, day time.Time, seq int) string {
	return fmt.Sprintf("%s_%s_%s.l.%d.jsonl.gz", day.Format(pathDayLayout), key.Country, key.Test, seq)
}
