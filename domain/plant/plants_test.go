package plant_test

import (
	"context"
	"testing"

	"maintos/account"
	"maintos/bizerror"
	"maintos/domain"
	"maintos/domain/plant"
	"maintos/persistence"
	"maintos/testinfra"

	. "github.com/onsi/gomega"
)

func plantTestSetup(t *testing.T, testDatabase **testinfra.TestDatabase) {
	db := testinfra.StartSqliteTestDatabase("maintos")
	*testDatabase = db
	Expect(db.DS.GormDB(context.Background()).AutoMigrate(
		&domain.Plant{}, &domain.PlantMember{}).Error).To(BeNil())
	persistence.ActiveDataSourceManager = db.DS
}

func plantTestTeardown(t *testing.T, testDatabase *testinfra.TestDatabase) {
	if testDatabase != nil {
		testinfra.StopSqliteTestDatabase(testDatabase)
	}
}

func TestCreatePlant(t *testing.T) {
	RegisterTestingT(t)
	var testDatabase *testinfra.TestDatabase

	t.Run("only a system admin creates plants, creator becomes manager", func(t *testing.T) {
		defer plantTestTeardown(t, testDatabase)
		plantTestSetup(t, &testDatabase)

		_, err := plant.CreatePlant(&domain.PlantCreating{Name: "north line", Identifier: "NOR"},
			testinfra.BuildSession(300, "manager_9"))
		Expect(err).To(Equal(bizerror.ErrForbidden))

		admin := testinfra.BuildSession(100, account.SystemAdminPermission.ID)
		p, err := plant.CreatePlant(&domain.PlantCreating{Name: "north line", Identifier: "NOR"}, admin)
		Expect(err).To(BeNil())
		Expect(p.NextWorkOrderId).To(Equal(1))

		members, err := plant.QueryPlantMembers(&domain.PlantMemberQuery{PlantID: &p.ID}, admin)
		Expect(err).To(BeNil())
		Expect(len(*members)).To(Equal(1))
		Expect((*members)[0].MemberId).To(Equal(admin.Identity.ID))
		Expect((*members)[0].Role).To(Equal(domain.PlantRoleManager))
	})
}

func TestNextWorkOrderIdentifier(t *testing.T) {
	RegisterTestingT(t)
	var testDatabase *testinfra.TestDatabase

	t.Run("identifiers consume the plant counter in order", func(t *testing.T) {
		defer plantTestTeardown(t, testDatabase)
		plantTestSetup(t, &testDatabase)

		admin := testinfra.BuildSession(100, account.SystemAdminPermission.ID)
		p, err := plant.CreatePlant(&domain.PlantCreating{Name: "south line", Identifier: "SOU"}, admin)
		Expect(err).To(BeNil())

		db := persistence.ActiveDataSourceManager.GormDB(context.Background())
		first, err := plant.NextWorkOrderIdentifier(p.ID, db)
		Expect(err).To(BeNil())
		Expect(first).To(Equal("SOU-1"))

		second, err := plant.NextWorkOrderIdentifier(p.ID, db)
		Expect(err).To(BeNil())
		Expect(second).To(Equal("SOU-2"))

		var reloaded domain.Plant
		Expect(db.Where(&domain.Plant{ID: p.ID}).First(&reloaded).Error).To(BeNil())
		Expect(reloaded.NextWorkOrderId).To(Equal(3))
	})
}
