package plant

import (
	"errors"
	"net/http"

	"maintos/bizerror"
	"maintos/domain"
	"maintos/misc"
	"maintos/session"

	"github.com/fundwit/go-commons/types"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

var PathPlants = "/v1/plants"

func RegisterPlantsRestAPI(r *gin.Engine, middleWares ...gin.HandlerFunc) {
	g := r.Group(PathPlants, middleWares...)
	g.GET("", handleQueryPlants)
	g.POST("", handleCreatePlant)
	g.PUT(":id", handleUpdatePlant)

	m := r.Group("/v1/plant-members", middleWares...)
	m.GET("", handleQueryPlantMembers)
	m.POST("", handleCreatePlantMember)
	m.DELETE("", handleDeletePlantMember)
}

func handleQueryPlants(c *gin.Context) {
	plants, err := QueryPlantsFunc(session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, plants)
}

func handleCreatePlant(c *gin.Context) {
	creating := domain.PlantCreating{}
	if err := c.ShouldBindBodyWith(&creating, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	record, err := CreatePlantFunc(&creating, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusCreated, record)
}

func handleUpdatePlant(c *gin.Context) {
	id, err := types.ParseID(c.Param("id"))
	if err != nil {
		panic(&bizerror.ErrBadParam{Cause: errors.New("invalid id '" + c.Param("id") + "'")})
	}
	updating := domain.PlantUpdating{}
	if err := c.ShouldBindBodyWith(&updating, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	if err := UpdatePlantFunc(id, &updating, session.ExtractSessionFromGinContext(c)); err != nil {
		panic(err)
	}
	c.AbortWithStatus(http.StatusOK)
}

func handleQueryPlantMembers(c *gin.Context) {
	query := domain.PlantMemberQuery{}
	if err := c.MustBindWith(&query, binding.Query); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	members, err := QueryPlantMembersFunc(&query, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, &misc.PagedBody{List: members, Total: uint64(len(*members))})
}

func handleCreatePlantMember(c *gin.Context) {
	creation := domain.PlantMemberCreation{}
	if err := c.ShouldBindBodyWith(&creation, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	if err := CreatePlantMemberFunc(&creation, session.ExtractSessionFromGinContext(c)); err != nil {
		panic(err)
	}
	c.AbortWithStatus(http.StatusCreated)
}

func handleDeletePlantMember(c *gin.Context) {
	query := domain.PlantMemberQuery{}
	if err := c.MustBindWith(&query, binding.Query); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}
	if query.PlantID == nil || query.MemberID == nil {
		panic(&bizerror.ErrBadParam{Cause: errors.New("plantId and memberId are required")})
	}

	if err := DeletePlantMemberFunc(*query.PlantID, *query.MemberID, session.ExtractSessionFromGinContext(c)); err != nil {
		panic(err)
	}
	c.AbortWithStatus(http.StatusNoContent)
}
