package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/database"
	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/notify"
)

// ==================== 常量定义 ====================

// logicalTables 逻辑实体表到物理表的映射
// 白名单同时防止把未知表名拼进 SQL
var logicalTables = map[string]string{
	notify.TableProject:          database.TableProjects,
	notify.TableDetailSheet:      database.TableDetailSheets,
	notify.TableQuote:            database.TableQuotes,
	notify.TableSurvey:           database.TableSurveys,
	notify.TableProjectPersonnel: database.TableProjectPersonnel,
}

// ==================== MySQLStore 结构 ====================

// MySQLStore 基于 MySQL JSON 文档列的记录存储
// 实体正文整体存于 data 列,按 JSON 路径过滤与取值
type MySQLStore struct {
	db *database.MySQLDB
}

// NewMySQLStore 创建记录存储
func NewMySQLStore(db *database.MySQLDB) *MySQLStore {
	return &MySQLStore{db: db}
}

// ==================== 查询接口 ====================

// ReadRelated 按过滤列读取关联记录列表
func (store *MySQLStore) ReadRelated(ctx context.Context, table, filterColumn, value string) ([]notify.RecordSnapshot, error) {
	physical, err := store.physicalTable(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT data FROM %s WHERE JSON_UNQUOTE(JSON_EXTRACT(data, ?)) = ?", physical)

	rows, err := store.db.QueryContext(ctx, query, jsonPath(filterColumn), value)
	if err != nil {
		return nil, fmt.Errorf("query %s by %s failed: %w", table, filterColumn, err)
	}
	defer rows.Close()

	return scanSnapshots(rows, table)
}

// ReadScalar 读取单条记录的单列值
// 记录不存在或该列为 JSON null 时第二返回值为 false
func (store *MySQLStore) ReadScalar(ctx context.Context, table, column, id string) (string, bool, error) {
	physical, err := store.physicalTable(table)
	if err != nil {
		return "", false, err
	}

	query := fmt.Sprintf(
		"SELECT JSON_UNQUOTE(JSON_EXTRACT(data, ?)) FROM %s WHERE id = ?", physical)

	var value sql.NullString
	err = store.db.QueryRowContext(ctx, query, jsonPath(column), id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s.%s of %s failed: %w", table, column, id, err)
	}

	if !value.Valid {
		return "", false, nil
	}
	return value.String, true, nil
}

// ==================== 私有辅助方法 ====================

func (store *MySQLStore) physicalTable(table string) (string, error) {
	physical, ok := logicalTables[table]
	if !ok {
		return "", fmt.Errorf("unknown entity table %q", table)
	}
	return physical, nil
}

func jsonPath(column string) string {
	return "$." + column
}

// scanSnapshots 把文档列逐行还原为记录快照
// 单行解析失败视为数据损坏,整个查询报错而不是静默丢行
func scanSnapshots(rows *sql.Rows, table string) ([]notify.RecordSnapshot, error) {
	var snapshots []notify.RecordSnapshot

	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("scan %s row failed: %w", table, err)
		}

		var columns map[string]any
		if err := json.Unmarshal(document, &columns); err != nil {
			return nil, fmt.Errorf("decode %s document failed: %w", table, err)
		}

		snapshots = append(snapshots, notify.NewRecordSnapshot(columns))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows failed: %w", table, err)
	}

	return snapshots, nil
}
