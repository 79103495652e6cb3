package models

// Blob is one stored piece of heavy content, keyed by
// (meeting id, content type, chunk index). Content small enough to fit in a
// single value is stored as one blob with ChunkIndex 0 and ChunkCount 1;
// oversized content is split into ordered fixed-size chunks sharing the same
// ChunkCount.
type Blob struct {
	MeetingID   string
	ContentType ContentType
	ChunkIndex  int
	ChunkCount  int
	Text        string
	SizeBytes   int64
}
