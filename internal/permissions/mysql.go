package permissions

import (
	"context"
	"fmt"
	"strings"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/database"
	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/notify"
)

// MySQLStore 基于角色授予关系表的权限存储
// 两张关系表:role_permissions(role, permission) 与 user_roles(user_id, role)
type MySQLStore struct {
	db *database.MySQLDB
}

// NewMySQLStore 创建权限存储
func NewMySQLStore(db *database.MySQLDB) *MySQLStore {
	return &MySQLStore{db: db}
}

// RolesGranting 返回授予指定权限的全部角色
func (store *MySQLStore) RolesGranting(ctx context.Context, permission string) ([]string, error) {
	query := fmt.Sprintf(
		"SELECT role FROM %s WHERE permission = ?", database.TableRolePermissions)

	rows, err := store.db.QueryContext(ctx, query, permission)
	if err != nil {
		return nil, fmt.Errorf("query roles granting %s failed: %w", permission, err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan role failed: %w", err)
		}
		roles = append(roles, role)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles failed: %w", err)
	}

	return roles, nil
}

// UsersWithAnyRole 返回持有任一指定角色的用户集合
func (store *MySQLStore) UsersWithAnyRole(ctx context.Context, roles []string) (notify.RecipientSet, error) {
	users := notify.NewRecipientSet()
	if len(roles) == 0 {
		return users, nil
	}

	placeholders := strings.Repeat("?,", len(roles))
	placeholders = placeholders[:len(placeholders)-1]

	query := fmt.Sprintf(
		"SELECT DISTINCT user_id FROM %s WHERE role IN (%s)",
		database.TableUserRoles, placeholders)

	args := make([]any, len(roles))
	for i, role := range roles {
		args[i] = role
	}

	rows, err := store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users with roles failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan user failed: %w", err)
		}
		users.Add(notify.RecipientID(userID))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users failed: %w", err)
	}

	return users, nil
}
