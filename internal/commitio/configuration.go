package commitio

import (
	"io"
	"os"

	"github.com/edged/edged/internal/configtree"
)

// ConfigurationReader replays a transaction log file into a tree, reusing
// each record's own modtime rather than allocating fresh ones, so the
// resulting tree state matches exactly what was in effect when the log
// was last written.
type ConfigurationReader struct {
	Tree *configtree.Tree
}

// ReadFile replays path (a transaction log) into r.Tree and returns the
// highest sequence number seen, so a subsequently opened ConfigurationWriter
// can continue numbering from there.
func (r *ConfigurationReader) ReadFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()
	return configtree.ReplayTxLog(r.Tree, f)
}

// ConfigurationWriter subscribes to every structural and value change
// under a tree's root and serializes each one to the transaction log file
// as it happens, so the log is always a complete, append-only record of
// every mutation applied to the tree since the writer was installed.
type ConfigurationWriter struct {
	log  *configtree.TxLog
	file io.Closer
}

// OpenConfigurationWriter opens (appending to) the tlog file at path,
// continuing sequence numbering from startSeq (typically the value
// ConfigurationReader.ReadFile returned).
func OpenConfigurationWriter(path string, startSeq uint64) (*ConfigurationWriter, error) {
	log, f, err := configtree.OpenTxLog(path)
	if err != nil {
		return nil, err
	}
	log.SetSeq(startSeq)
	return &ConfigurationWriter{log: log, file: f}, nil
}

// Attach installs a subscriber on every Topic under topics (recursively)
// that appends each change to the tlog as a scalar merge record. New
// children created after Attach is called are picked up automatically via
// SubscribeChildren, so the writer never misses a topic added later in
// the tree's lifetime.
func (w *ConfigurationWriter) Attach(topics *configtree.Topics, path string) {
	topics.SubscribeChildren(func(what configtree.WhatHappened, child configtree.Node, modtime int64) {
		childPath := joinPath(path, child.Name())
		if what == configtree.Removed {
			w.log.Append(modtime, configtree.TxRemove, childPath, nil)
			return
		}
		switch c := child.(type) {
		case *configtree.Topics:
			w.Attach(c, childPath)
		case *configtree.Topic:
			w.attachLeaf(c, childPath)
		}
	})
	for _, child := range topics.Children() {
		childPath := joinPath(path, child.Name())
		switch c := child.(type) {
		case *configtree.Topics:
			w.Attach(c, childPath)
		case *configtree.Topic:
			w.attachLeaf(c, childPath)
		}
	}
}

func (w *ConfigurationWriter) attachLeaf(topic *configtree.Topic, path string) {
	topic.Subscribe(func(what configtree.WhatHappened, t *configtree.Topic, value configtree.Any) {
		if what == configtree.Removed {
			// Topic.SetValue never schedules Removed today — a leaf's
			// removal is only ever observed by its *parent*'s
			// ChildSubscriber (see Attach above) — but guard here too in
			// case a future Topic-level removal path is added.
			w.log.Append(t.ModTime(), configtree.TxRemove, path, nil)
			return
		}
		w.log.Append(t.ModTime(), configtree.TxMerge, path, value)
	})
}

func (w *ConfigurationWriter) Close() error {
	return w.file.Close()
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "/" + name
}
