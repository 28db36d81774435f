package log

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func init() {
	if f, ok := logrus.StandardLogger().Formatter.(*logrus.TextFormatter); ok {
		f.FullTimestamp = true
	}
	logrus.AddHook(new(TaggedHook))
}

// NewLogger 返回带 tag 的标准 logger，输出形如 "[tag]: message"
func NewLogger(tag string) *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger()).WithField("tag", tag)
}

// SetLevel 按名称设置标准 logger 的级别
func SetLevel(name string) error {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return errors.Wrapf(err, "log level %q", name)
	}
	logrus.SetLevel(level)
	return nil
}

type TaggedHook struct{}

func (h *TaggedHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *TaggedHook) Fire(entry *logrus.Entry) error {
	if tagObj, loaded := entry.Data["tag"]; loaded {
		tag, ok := tagObj.(string)
		if !ok {
			return nil
		}
		delete(entry.Data, "tag")
		entry.Message = strings.TrimPrefix(entry.Message, tag+": ")
		entry.Message = "[" + tag + "]: " + entry.Message
	}
	return nil
}
