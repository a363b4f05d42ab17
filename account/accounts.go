package account

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"

	"maintos/authority"
	"maintos/bizerror"
	"maintos/common"
	"maintos/domain"
	"maintos/persistence"
	"maintos/session"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
	"github.com/sony/sonyflake"
)

var (
	userIdWorker = sonyflake.NewSonyflake(sonyflake.Settings{})

	systemAdminRole        = Role{ID: "system-admin", Title: "System Administrator"}
	SystemAdminPermission  = Permission{ID: "system:admin", Title: "System Administration"}
	SystemViewPermission   = Permission{ID: "system:view", Title: "System View"}
	systemAdminRoleBinding = RolePermissionBinding{ID: 1, RoleID: systemAdminRole.ID, PermissionID: SystemAdminPermission.ID}

	CreateUserFunc = CreateUser
	QueryUsersFunc = QueryUsers
	UpdateUserFunc = UpdateUser
	LoadPermFunc   = loadPerms
)

type RolePermissionBinding struct {
	ID           types.ID `json:"id" gorm:"primary_key"`
	RoleID       string   `json:"roleId"`
	PermissionID string   `json:"permissionId"`
}

func LoadPermFuncReset() {
	LoadPermFunc = loadPerms
}

func HashSha256(raw string) string {
	h := sha256.New()
	h.Write([]byte(raw))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)
}

func DefaultSecurityConfiguration() error {
	db := persistence.ActiveDataSourceManager.GormDB(nil)
	if err := db.Save(&systemAdminRole).Error; err != nil {
		return err
	}
	if err := db.Save(&SystemAdminPermission).Error; err != nil {
		return err
	}
	if err := db.Save(&systemAdminRoleBinding).Error; err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		admin := User{}
		err := tx.Model(&User{}).Where(&User{ID: 1}).First(&admin).Error
		if err != nil && errors.Is(err, gorm.ErrRecordNotFound) {
			initialAdminPassword := os.Getenv("INITIAL_ADMIN_PASSWORD")
			if initialAdminPassword == "" {
				initialAdminPassword = "admin123"
			}
			if err := tx.Save(&User{ID: 1, Name: "admin", Secret: HashSha256(initialAdminPassword)}).Error; err != nil {
				return err
			}
		}
		return tx.Save(&UserRoleBinding{ID: 1, UserID: 1, RoleID: systemAdminRole.ID}).Error
	})
}

func CreateUser(c *UserCreation, s *session.Session) (*UserInfo, error) {
	if !s.Perms.HasRole(SystemAdminPermission.ID) {
		return nil, bizerror.ErrForbidden
	}

	user := User{ID: common.NextId(userIdWorker), Name: c.Name, Nickname: c.Nickname, Secret: HashSha256(c.Secret)}
	if err := persistence.ActiveDataSourceManager.GormDB(s.Context).Save(&user).Error; err != nil {
		return nil, err
	}
	return &UserInfo{ID: user.ID, Name: user.Name, Nickname: user.Nickname}, nil
}

func QueryUsers(s *session.Session) (*[]UserInfo, error) {
	var users []UserInfo
	if err := persistence.ActiveDataSourceManager.GormDB(s.Context).Model(&User{}).Scan(&users).Error; err != nil {
		return nil, err
	}
	return &users, nil
}

func UpdateUser(userId types.ID, c *UserUpdation, s *session.Session) error {
	if !s.Perms.HasRole(SystemAdminPermission.ID) && userId != s.Identity.ID {
		return bizerror.ErrForbidden
	}

	return persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		user := User{ID: userId}
		if err := tx.Where(&user).First(&user).Error; err != nil {
			return err
		}
		return tx.Model(&user).Update(&User{Nickname: c.Nickname}).Error
	})
}

func UpdateBasicAuthSecret(u *BasicAuthUpdating, s *session.Session) error {
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)
	user := User{}
	if err := db.Model(&User{}).Where(&User{ID: s.Identity.ID, Secret: HashSha256(u.OriginalSecret)}).Scan(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return bizerror.ErrInvalidPassword
		}
		return err
	}

	return db.Model(&User{}).Where(&User{ID: s.Identity.ID, Secret: HashSha256(u.OriginalSecret)}).
		Update(&User{Secret: HashSha256(u.NewSecret)}).Error
}

func QueryAccountNames(ids []types.ID) (map[types.ID]string, error) {
	if len(ids) == 0 {
		return map[types.ID]string{}, nil
	}
	db := persistence.ActiveDataSourceManager.GormDB(nil)
	var records []UserInfo
	if err := db.Model(&User{}).Where("id IN (?)", ids).Scan(&records).Error; err != nil {
		return nil, err
	}
	result := map[types.ID]string{}
	for _, r := range records {
		result[r.ID] = r.DisplayName()
	}
	return result, nil
}

// plant member relationship is the metadata of plant scoped permissions
func loadPerms(uid types.ID) (authority.Permissions, authority.PlantRoles) {
	var perms []string
	var plantRoles []domain.PlantRole
	db := persistence.ActiveDataSourceManager.GormDB(nil)

	var systemRoles []string
	if err := db.Model(&UserRoleBinding{}).Where(&UserRoleBinding{UserID: uid}).Pluck("role_id", &systemRoles).Error; err != nil {
		panic(err)
	}
	if len(systemRoles) > 0 {
		var bindings []RolePermissionBinding
		if err := db.Model(&RolePermissionBinding{}).Where("role_id IN (?)", systemRoles).Find(&bindings).Error; err != nil {
			panic(err)
		}
		for _, b := range bindings {
			perms = append(perms, b.PermissionID)
		}
	}

	var members []domain.PlantMember
	if err := db.Model(&domain.PlantMember{}).Where(&domain.PlantMember{MemberId: uid}).Find(&members).Error; err != nil {
		panic(err)
	}
	for _, m := range members {
		perms = append(perms, m.Role+"_"+m.PlantId.String())
		plantRoles = append(plantRoles, domain.PlantRole{PlantID: m.PlantId, Role: m.Role})
	}

	return perms, plantRoles
}
