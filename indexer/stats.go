package indexer

import "github.com/poiesic/memex/core"

// Stats summarizes one Sync.
type Stats struct {
	FilesScanned    int
	FilesSkipped    int // unchanged size and mtime
	FilesAdded      int
	FilesAppended   int
	FilesReingested int
	FilesRemoved    int
	FilesFailed     int // unreadable, retried on the next sync

	RecordsParsed  int
	RecordsRemoved int64
	LinesSkipped   int

	EmbeddingsWritten int
	EmbeddingsFailed  int

	Commits    int
	Generation core.Generation
}

// Changed reports whether the sync wrote anything.
func (s Stats) Changed() bool {
	return s.Commits > 0
}

func (s *Stats) add(o Stats) {
	s.FilesScanned += o.FilesScanned
	s.FilesSkipped += o.FilesSkipped
	s.FilesAdded += o.FilesAdded
	s.FilesAppended += o.FilesAppended
	s.FilesReingested += o.FilesReingested
	s.FilesRemoved += o.FilesRemoved
	s.FilesFailed += o.FilesFailed
	s.RecordsParsed += o.RecordsParsed
	s.RecordsRemoved += o.RecordsRemoved
	s.LinesSkipped += o.LinesSkipped
	s.EmbeddingsWritten += o.EmbeddingsWritten
	s.EmbeddingsFailed += o.EmbeddingsFailed
	s.Commits += o.Commits
	if o.Generation > s.Generation {
		s.Generation = o.Generation
	}
}
