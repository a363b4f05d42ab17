package routine_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"maintos/bizerror"
	"maintos/domain/routine"
	"maintos/session"
	"maintos/testinfra"

	"github.com/fundwit/go-commons/types"
	"github.com/gin-gonic/gin"
	. "github.com/onsi/gomega"
)

func TestGenerationScanRequestAPI(t *testing.T) {
	RegisterTestingT(t)

	router := gin.Default()
	router.Use(bizerror.ErrorHandling())
	routine.RegisterRoutinesRestAPI(router, testinfra.SessionFilter(testinfra.BuildSession(10, "system:admin")))

	t.Run("should schedule a scan and rate limit immediate retries", func(t *testing.T) {
		scheduled := 0
		routine.ScheduleNewGenerationRunFunc = func(s *session.Session) (bool, error) {
			scheduled++
			return true, nil
		}
		defer func() {
			routine.ScheduleNewGenerationRunFunc = routine.ScheduleNewGenerationRun
		}()

		req := httptest.NewRequest(http.MethodPost, routine.PathGenerationRequests, nil)
		status, body, _ := testinfra.ExecuteRequest(req, router)
		Expect(status).To(Equal(http.StatusCreated))
		Expect(body).To(MatchJSON(`{"result": "started"}`))
		Expect(scheduled).To(Equal(1))

		req = httptest.NewRequest(http.MethodPost, routine.PathGenerationRequests, nil)
		status, body, _ = testinfra.ExecuteRequest(req, router)
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(MatchJSON(`{"result": "request rate limited"}`))
		Expect(scheduled).To(Equal(1))
	})
}

func TestQueryRoutinesAPI(t *testing.T) {
	RegisterTestingT(t)

	router := gin.Default()
	router.Use(bizerror.ErrorHandling())
	routine.RegisterRoutinesRestAPI(router, testinfra.SessionFilter(testinfra.BuildSession(10, "manager_1")))

	t.Run("should return visible routines as a paged body", func(t *testing.T) {
		routine.QueryRoutinesFunc = func(query *routine.RoutineQuery, s *session.Session) (*[]routine.Routine, error) {
			Expect(query.PlantID).To(Equal(types.ID(1)))
			return &[]routine.Routine{{ID: 7, Name: "500h service", PlantID: 1, AssetID: 3,
				TriggerKind: routine.TriggerKindRuntimeHours, Active: true}}, nil
		}
		defer func() {
			routine.QueryRoutinesFunc = routine.QueryRoutines
		}()

		req := httptest.NewRequest(http.MethodGet, routine.PathRoutines+"?plantId=1", nil)
		status, body, _ := testinfra.ExecuteRequest(req, router)
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring(`"total":1`))
		Expect(body).To(ContainSubstring(`"name":"500h service"`))
	})

	t.Run("should reject an invalid id on detail", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, routine.PathRoutines+"/not-a-number", nil)
		status, _, _ := testinfra.ExecuteRequest(req, router)
		Expect(status).To(Equal(http.StatusBadRequest))
	})
}
