package chunk

import (
	"time"

	"github.com/ceyewan/harvest/xerrors"
)

// DateLayout 分片边界使用的日期格式
const DateLayout = time.DateOnly

// Chunk 日期范围中的一段，Since 与 Until 均包含在内
type Chunk struct {
	Index int    `json:"index" msgpack:"index"`
	Since string `json:"since" msgpack:"since"`
	Until string `json:"until" msgpack:"until"`
}

// Plan 把 [since, until] 切分为连续、不重叠、按时间升序的分片，
// 每片最多 maxDays 天，最后一片可以更短。
func Plan(since, until string, maxDays int) ([]Chunk, error) {
	if maxDays < 1 {
		return nil, xerrors.Wrapf(ErrInvalidRange, "max_days must be >= 1, got %d", maxDays)
	}
	start, end, err := parseRange(since, until)
	if err != nil {
		return nil, err
	}

	var chunks []Chunk
	for cur := start; !cur.After(end); {
		last := cur.AddDate(0, 0, maxDays-1)
		if last.After(end) {
			last = end
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Since: cur.Format(DateLayout),
			Until: last.Format(DateLayout),
		})
		cur = last.AddDate(0, 0, 1)
	}
	return chunks, nil
}

// ValidateRange 只校验日期范围，不做切分
func ValidateRange(since, until string) error {
	_, _, err := parseRange(since, until)
	return err
}

func parseRange(since, until string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout, since, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, xerrors.Wrapf(ErrInvalidRange, "since %q is not YYYY-MM-DD", since)
	}
	end, err := time.ParseInLocation(DateLayout, until, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, xerrors.Wrapf(ErrInvalidRange, "until %q is not YYYY-MM-DD", until)
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, xerrors.Wrapf(ErrInvalidRange, "since %s is after until %s", since, until)
	}
	return start, end, nil
}

// StateKey 分片状态在缓存中的键
func StateKey(partition, since, until, filter string) string {
	if filter == "" {
		filter = "all"
	}
	return "chunk_state:" + partition + ":" + since + ":" + until + ":" + filter
}
