package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"Ethernaut-Agent/internal/solver"
)

// ArchiveRecord 表示一次求解裁定的落库结构。Turns 为回合历史的
// JSON 序列化，便于事后回放求解过程。
type ArchiveRecord struct {
	TaskID    string
	Goal      string
	Address   string
	Status    string
	Reason    string
	Solved    bool
	Actions   int
	Message   string
	Turns     string
	CreatedAt int64
}

// NewArchiveRecord 把求解裁定转换为归档记录。
func NewArchiveRecord(taskID, goal, address string, verdict solver.Verdict) ArchiveRecord {
	turns := ""
	if raw, err := json.Marshal(verdict.Turns); err == nil {
		turns = string(raw)
	}
	return ArchiveRecord{
		TaskID:    taskID,
		Goal:      goal,
		Address:   address,
		Status:    string(verdict.Status),
		Reason:    string(verdict.Reason),
		Solved:    verdict.Solved,
		Actions:   verdict.Actions,
		Message:   verdict.Message,
		Turns:     turns,
		CreatedAt: time.Now().Unix(),
	}
}

// ArchiveRepository 抽象裁定归档的持久化接口。
type ArchiveRepository interface {
	Save(ctx context.Context, record ArchiveRecord) error
	ListLatest(ctx context.Context, limit int) ([]ArchiveRecord, error)
	Close() error
}

// FileArchive 使用本地 JSON 行文件模拟 MySQL 的效果，方便迭代开发。
type FileArchive struct {
	mu       sync.RWMutex
	dataFile string
	records  []ArchiveRecord
}

// NewFileArchive 创建一个基于文件的归档仓库。
func NewFileArchive(dataDir string) (*FileArchive, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "verdicts.log")
	archive := &FileArchive{dataFile: path}
	if err := archive.loadFromDisk(); err != nil {
		return nil, err
	}
	return archive, nil
}

// Save 以追加写的方式记录裁定。
func (f *FileArchive) Save(_ context.Context, record ArchiveRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开归档文件失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化归档记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入归档文件失败: %w", err)
	}

	f.records = append([]ArchiveRecord{record}, f.records...)
	if len(f.records) > 512 {
		f.records = f.records[:512]
	}
	return nil
}

// ListLatest 返回最近的归档记录，按时间倒序排列。
func (f *FileArchive) ListLatest(_ context.Context, limit int) ([]ArchiveRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if limit <= 0 || limit > len(f.records) {
		limit = len(f.records)
	}
	results := make([]ArchiveRecord, limit)
	copy(results, f.records[:limit])
	return results, nil
}

// Close 对文件归档无事可做。
func (f *FileArchive) Close() error { return nil }

func (f *FileArchive) loadFromDisk() error {
	file, err := os.OpenFile(f.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取归档文件失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []ArchiveRecord
	for scanner.Scan() {
		var record ArchiveRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]ArchiveRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析归档文件失败: %w", err)
	}

	if len(restored) > 512 {
		restored = restored[:512]
	}
	if len(restored) > 0 {
		f.records = restored
	}
	return nil
}

// SQLArchive 使用真实的 MySQL 数据库存储裁定归档。
type SQLArchive struct {
	db *sql.DB
}

// NewSQLArchive 创建连接池并初始化数据表。
func NewSQLArchive(dsn string) (*SQLArchive, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}

	archive := &SQLArchive{db: db}
	if err := archive.initSchema(); err != nil {
		return nil, err
	}
	return archive, nil
}

func (s *SQLArchive) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS verdict_archive (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        task_id VARCHAR(64) NOT NULL,
        goal TEXT NOT NULL,
        address VARCHAR(255) DEFAULT '',
        status VARCHAR(32) NOT NULL,
        reason VARCHAR(64) DEFAULT '',
        solved TINYINT(1) NOT NULL DEFAULT 0,
        actions INT NOT NULL DEFAULT 0,
        message TEXT NOT NULL,
        turns MEDIUMTEXT NOT NULL,
        created_at BIGINT NOT NULL,
        INDEX idx_task_id (task_id),
        INDEX idx_created_at (created_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("初始化 verdict_archive 表失败: %w", err)
	}
	return nil
}

// Save 将归档记录写入 MySQL。
func (s *SQLArchive) Save(ctx context.Context, record ArchiveRecord) error {
	const stmt = `INSERT INTO verdict_archive
        (task_id, goal, address, status, reason, solved, actions, message, turns, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.TaskID,
		record.Goal,
		record.Address,
		record.Status,
		record.Reason,
		record.Solved,
		record.Actions,
		record.Message,
		record.Turns,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条归档记录。
func (s *SQLArchive) ListLatest(ctx context.Context, limit int) ([]ArchiveRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT task_id, goal, address, status, reason, solved, actions, message, turns, created_at
        FROM verdict_archive ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询归档记录失败: %w", err)
	}
	defer rows.Close()

	var records []ArchiveRecord
	for rows.Next() {
		var record ArchiveRecord
		if err := rows.Scan(&record.TaskID, &record.Goal, &record.Address, &record.Status, &record.Reason, &record.Solved, &record.Actions, &record.Message, &record.Turns, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析归档记录失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历归档记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLArchive) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
