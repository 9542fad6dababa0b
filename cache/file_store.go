package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/miekg/dns"
)

const fileFormatVersion = 1

// fileSnapshot 缓存文件格式
type fileSnapshot struct {
	Version int          `json:"version"`
	SavedAt time.Time    `json:"saved_at"`
	Records []fileRecord `json:"records"`
}

// fileRecord RR 使用 presentation 格式保存，读取时由 dns.NewRR 解析
type fileRecord struct {
	RR       string    `json:"rr"`
	ExpireAt time.Time `json:"expire_at"`
}

// FileStore 文件持久化
type FileStore struct {
	path string
}

// NewFileStore 创建文件持久化
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Name 后端名称
func (s *FileStore) Name() string {
	return "file"
}

// Path 文件路径
func (s *FileStore) Path() string {
	return s.path
}

// Load 读取缓存文件，文件不存在视为冷启动
func (s *FileStore) Load(ctx context.Context) ([]*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: 读取缓存文件失败: %v", ErrPersistence, err)
	}

	var snapshot fileSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: 解析缓存文件失败: %v", ErrPersistence, err)
	}
	if snapshot.Version != fileFormatVersion {
		return nil, fmt.Errorf("%w: 不支持的缓存文件版本: %d", ErrPersistence, snapshot.Version)
	}

	records := make([]*Record, 0, len(snapshot.Records))
	for _, fr := range snapshot.Records {
		rr, err := dns.NewRR(fr.RR)
		if err != nil || rr == nil {
			// 单条损坏不影响其余记录
			continue
		}
		records = append(records, &Record{RR: rr, ExpireAt: fr.ExpireAt})
	}

	return records, nil
}

// Save 写入临时文件后重命名，避免留下半截文件
func (s *FileStore) Save(ctx context.Context, records []*Record) error {
	snapshot := fileSnapshot{
		Version: fileFormatVersion,
		SavedAt: time.Now().UTC(),
		Records: make([]fileRecord, 0, len(records)),
	}
	for _, rec := range records {
		snapshot.Records = append(snapshot.Records, fileRecord{
			RR:       rec.RR.String(),
			ExpireAt: rec.ExpireAt.UTC(),
		})
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: 序列化缓存失败: %v", ErrPersistence, err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: 创建目录失败: %v", ErrPersistence, err)
		}
	}

	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("%w: 写入缓存文件失败: %v", ErrPersistence, err)
	}

	if err := os.Rename(tmpFile, s.path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("%w: 重命名缓存文件失败: %v", ErrPersistence, err)
	}

	return nil
}
