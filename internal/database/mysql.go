package database

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/config"

	_ "github.com/go-sql-driver/mysql"
)

// 表名常量
const (
	TableProjects         = "projects"
	TableDetailSheets     = "detail_sheets"
	TableQuotes           = "quotes"
	TableSurveys          = "surveys"
	TableProjectPersonnel = "project_personnel"
	TableRolePermissions  = "role_permissions"
	TableUserRoles        = "user_roles"
)

// SQL 建表语句常量
// 业务实体按 JSON 文档列存储,结构随业务演进,只保留主键与版本列;
// 使用 InnoDB 引擎支持事务,utf8mb4 支持完整 Unicode 字符集
const (
	// createProjectsTableSQL 项目表
	createProjectsTableSQL = `
		CREATE TABLE IF NOT EXISTS projects (
			id VARCHAR(128) PRIMARY KEY COMMENT '项目唯一标识',
			record_version BIGINT NOT NULL COMMENT '记录版本号',
			data JSON NOT NULL COMMENT '项目文档',
			updated_at BIGINT NOT NULL COMMENT '更新时间戳',
			INDEX idx_updated_at (updated_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
		COMMENT='项目记录'
	`

	// createDetailSheetsTableSQL 明细表
	// project 列从文档中生成,支持按项目聚合查询
	createDetailSheetsTableSQL = `
		CREATE TABLE IF NOT EXISTS detail_sheets (
			id VARCHAR(128) PRIMARY KEY COMMENT '明细表唯一标识',
			record_version BIGINT NOT NULL COMMENT '记录版本号',
			data JSON NOT NULL COMMENT '明细表文档',
			project VARCHAR(128) GENERATED ALWAYS AS (data->>'$.project') STORED COMMENT '所属项目',
			updated_at BIGINT NOT NULL COMMENT '更新时间戳',
			INDEX idx_project (project)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
		COMMENT='项目明细表记录'
	`

	// createQuotesTableSQL 报价表
	createQuotesTableSQL = `
		CREATE TABLE IF NOT EXISTS quotes (
			id VARCHAR(128) PRIMARY KEY COMMENT '报价唯一标识',
			record_version BIGINT NOT NULL COMMENT '记录版本号',
			data JSON NOT NULL COMMENT '报价文档',
			project VARCHAR(128) GENERATED ALWAYS AS (data->>'$.project') STORED COMMENT '所属项目',
			updated_at BIGINT NOT NULL COMMENT '更新时间戳',
			INDEX idx_project (project)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
		COMMENT='报价记录'
	`

	// createSurveysTableSQL 问卷表
	createSurveysTableSQL = `
		CREATE TABLE IF NOT EXISTS surveys (
			id VARCHAR(128) PRIMARY KEY COMMENT '问卷唯一标识',
			record_version BIGINT NOT NULL COMMENT '记录版本号',
			data JSON NOT NULL COMMENT '问卷文档',
			project VARCHAR(128) GENERATED ALWAYS AS (data->>'$.project') STORED COMMENT '所属项目',
			updated_at BIGINT NOT NULL COMMENT '更新时间戳',
			INDEX idx_project (project)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
		COMMENT='问卷记录'
	`

	// createProjectPersonnelTableSQL 项目人员表
	createProjectPersonnelTableSQL = `
		CREATE TABLE IF NOT EXISTS project_personnel (
			id VARCHAR(128) PRIMARY KEY COMMENT '人员条目唯一标识',
			record_version BIGINT NOT NULL COMMENT '记录版本号',
			data JSON NOT NULL COMMENT '人员条目文档',
			project VARCHAR(128) GENERATED ALWAYS AS (data->>'$.project') STORED COMMENT '所属项目',
			updated_at BIGINT NOT NULL COMMENT '更新时间戳',
			INDEX idx_project (project)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
		COMMENT='项目人员记录'
	`

	// createRolePermissionsTableSQL 角色权限表
	createRolePermissionsTableSQL = `
		CREATE TABLE IF NOT EXISTS role_permissions (
			role VARCHAR(128) NOT NULL COMMENT '角色名',
			permission VARCHAR(128) NOT NULL COMMENT '权限名',
			PRIMARY KEY (role, permission),
			INDEX idx_permission (permission)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
		COMMENT='角色到权限的授予关系'
	`

	// createUserRolesTableSQL 用户角色表
	createUserRolesTableSQL = `
		CREATE TABLE IF NOT EXISTS user_roles (
			user_id VARCHAR(128) NOT NULL COMMENT '用户ID',
			role VARCHAR(128) NOT NULL COMMENT '角色名',
			PRIMARY KEY (user_id, role),
			INDEX idx_role (role)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
		COMMENT='用户到角色的持有关系'
	`
)

// MySQLDB MySQL 数据库连接管理器
// 封装连接池和表初始化逻辑
type MySQLDB struct {
	*sql.DB
}

// NewMySQLDB 创建 MySQL 数据库连接
// 自动配置连接池参数并测试连接可用性
func NewMySQLDB(mysqlConfig config.MySQLConfig) (*MySQLDB, error) {
	database, err := sql.Open("mysql", mysqlConfig.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	if err := configureConnectionPool(database, mysqlConfig); err != nil {
		database.Close()
		return nil, err
	}

	if err := testConnection(database); err != nil {
		database.Close()
		return nil, err
	}

	log.Printf("[MYSQL] 数据库连接成功")
	return &MySQLDB{DB: database}, nil
}

// configureConnectionPool 配置数据库连接池参数
func configureConnectionPool(database *sql.DB, mysqlConfig config.MySQLConfig) error {
	database.SetMaxOpenConns(mysqlConfig.MaxOpenConns)
	database.SetMaxIdleConns(mysqlConfig.MaxIdleConns)
	database.SetConnMaxLifetime(mysqlConfig.ConnMaxLifetime)
	return nil
}

// testConnection 测试数据库连接是否可用
func testConnection(database *sql.DB) error {
	if err := database.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// InitTables 初始化数据库表结构
// 幂等操作,多次执行不会产生副作用
func (database *MySQLDB) InitTables() error {
	if err := database.createAllTables(); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("[MYSQL] 数据库表初始化完成")
	return nil
}

// createAllTables 创建所有业务表
// 使用 IF NOT EXISTS 确保表已存在时不会报错
func (database *MySQLDB) createAllTables() error {
	tables := []tableDefinition{
		{name: TableProjects, sql: createProjectsTableSQL},
		{name: TableDetailSheets, sql: createDetailSheetsTableSQL},
		{name: TableQuotes, sql: createQuotesTableSQL},
		{name: TableSurveys, sql: createSurveysTableSQL},
		{name: TableProjectPersonnel, sql: createProjectPersonnelTableSQL},
		{name: TableRolePermissions, sql: createRolePermissionsTableSQL},
		{name: TableUserRoles, sql: createUserRolesTableSQL},
	}

	for _, table := range tables {
		if err := database.createTable(table); err != nil {
			return err
		}
	}

	return nil
}

// tableDefinition 表定义结构
type tableDefinition struct {
	name string
	sql  string
}

// createTable 创建单个数据表
func (database *MySQLDB) createTable(table tableDefinition) error {
	if _, err := database.Exec(table.sql); err != nil {
		log.Printf("[MYSQL] 创建表 %s 失败: %v", table.name, err)
		return fmt.Errorf("failed to create table %s: %w", table.name, err)
	}
	return nil
}

// Close 关闭数据库连接
// 释放所有连接池资源
func (database *MySQLDB) Close() error {
	if err := database.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}
