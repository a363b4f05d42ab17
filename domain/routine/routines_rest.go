package routine

import (
	"errors"
	"net/http"
	"time"

	"maintos/bizerror"
	"maintos/misc"
	"maintos/session"

	"github.com/fundwit/go-commons/types"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"golang.org/x/time/rate"
)

var (
	PathRoutines           = "/v1/routines"
	PathGenerationRequests = "/v1/work-order-generation-requests"

	generationScanLimiter = rate.NewLimiter(rate.Every(10*time.Second), 1)
)

func RegisterRoutinesRestAPI(r *gin.Engine, middleWares ...gin.HandlerFunc) {
	g := r.Group(PathRoutines, middleWares...)
	g.GET("", handleQueryRoutines)
	g.POST("", handleCreateRoutine)
	g.GET(":id", handleDetailRoutine)
	g.PUT(":id", handleUpdateRoutine)
	g.POST(":id/work-orders", handleGenerateWorkOrder)

	s := r.Group(PathGenerationRequests, middleWares...)
	s.POST("", handleGenerationScanRequest)
}

func handleQueryRoutines(c *gin.Context) {
	query := RoutineQuery{}
	if err := c.MustBindWith(&query, binding.Query); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	routines, err := QueryRoutinesFunc(&query, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, &misc.PagedBody{List: routines, Total: uint64(len(*routines))})
}

func handleCreateRoutine(c *gin.Context) {
	creation := RoutineCreation{}
	if err := c.ShouldBindBodyWith(&creation, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	record, err := CreateRoutineFunc(&creation, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusCreated, record)
}

func handleDetailRoutine(c *gin.Context) {
	record, err := DetailRoutineFunc(parseRoutineId(c), session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, record)
}

func handleUpdateRoutine(c *gin.Context) {
	updating := RoutineUpdating{}
	if err := c.ShouldBindBodyWith(&updating, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	updated, err := UpdateRoutineFunc(parseRoutineId(c), &updating, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, updated)
}

func handleGenerateWorkOrder(c *gin.Context) {
	record, err := GenerateWorkOrderFunc(parseRoutineId(c), session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusCreated, record)
}

func handleGenerationScanRequest(c *gin.Context) {
	if !generationScanLimiter.Allow() {
		c.JSON(http.StatusOK, gin.H{"result": "request rate limited"})
		return
	}

	started, err := ScheduleNewGenerationRunFunc(session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	if !started {
		c.JSON(http.StatusOK, gin.H{"result": "already running"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"result": "started"})
}

func parseRoutineId(c *gin.Context) types.ID {
	id, err := types.ParseID(c.Param("id"))
	if err != nil {
		panic(&bizerror.ErrBadParam{Cause: errors.New("invalid id '" + c.Param("id") + "'")})
	}
	return id
}
