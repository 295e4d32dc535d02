// Package stats 进程内的请求计数，只用于健康检查和定时日志，不保存任何图片
package stats

import (
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type Stats struct {
	processed atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64
	bytesIn   atomic.Int64
	bytesOut  atomic.Int64
}

type Snapshot struct {
	Processed int64 `json:"processed"`
	Rejected  int64 `json:"rejected"`
	Failed    int64 `json:"failed"`
	BytesIn   int64 `json:"bytes_in"`
	BytesOut  int64 `json:"bytes_out"`
}

func New() *Stats {
	return &Stats{}
}

// Processed 处理成功一次
func (s *Stats) Processed(in, out int) {
	s.processed.Add(1)
	s.bytesIn.Add(int64(in))
	s.bytesOut.Add(int64(out))
}

// Rejected 校验失败
func (s *Stats) Rejected() {
	s.rejected.Add(1)
}

// Failed 解码或编码失败
func (s *Stats) Failed() {
	s.failed.Add(1)
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Processed: s.processed.Load(),
		Rejected:  s.rejected.Load(),
		Failed:    s.failed.Load(),
		BytesIn:   s.bytesIn.Load(),
		BytesOut:  s.bytesOut.Load(),
	}
}

func (s Snapshot) Fields() logrus.Fields {
	return logrus.Fields{
		"processed": s.Processed,
		"rejected":  s.Rejected,
		"failed":    s.Failed,
		"bytes_in":  s.BytesIn,
		"bytes_out": s.BytesOut,
	}
}

// Reporter 按 cron 表达式定时打印计数
type Reporter struct {
	cron  *cron.Cron
	stats *Stats
	log   *logrus.Entry
}

func NewReporter(s *Stats, spec string, log *logrus.Entry) (*Reporter, error) {
	r := &Reporter{
		cron:  cron.New(),
		stats: s,
		log:   log,
	}
	if _, err := r.cron.AddFunc(spec, r.Report); err != nil {
		return nil, fmt.Errorf("parse stats cron %q: %w", spec, err)
	}
	return r, nil
}

func (r *Reporter) Report() {
	r.log.WithFields(r.stats.Snapshot().Fields()).Info("request stats")
}

func (r *Reporter) Start() {
	r.cron.Start()
}

// Stop 等待正在执行的任务结束
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
}
