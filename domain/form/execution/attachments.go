package execution

import (
	"io"

	"maintos/bizerror"
	"maintos/client/s3"
	"maintos/common"
	"maintos/persistence"
	"maintos/session"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
	"github.com/sony/sonyflake"
)

var (
	attachmentIdWorker = sonyflake.NewSonyflake(sonyflake.Settings{})

	UploadAttachmentFunc   = UploadAttachment
	DownloadAttachmentFunc = DownloadAttachment
)

// ResponseAttachment references an uploaded photo or file by its storage
// path. Only the path string is stored; the bytes live in the object store.
type ResponseAttachment struct {
	ID         types.ID `json:"id" gorm:"primary_key"`
	ResponseID types.ID `json:"responseId" gorm:"index:idx_attachment_response"`

	Path        string `json:"path"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`

	CreateTime types.Timestamp `json:"createTime" sql:"type:DATETIME(6) NOT NULL"`
	Creator    types.ID        `json:"creator"`
}

// UploadAttachment stores the file bytes under a response-scoped key and
// records the reference. The owning response must be a photo or file task.
func UploadAttachment(responseId types.ID, fileName string, contentType string, size int64,
	content io.Reader, s *session.Session) (*ResponseAttachment, error) {

	var record *ResponseAttachment
	err := persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		var response TaskResponse
		if err := tx.Where(&TaskResponse{ID: responseId}).First(&response).Error; err != nil {
			return err
		}
		if _, err := findExecutionAndCheckPerms(tx, response.ExecutionID, s); err != nil {
			return err
		}

		a := ResponseAttachment{
			ID: common.NextId(attachmentIdWorker), ResponseID: response.ID,
			FileName: fileName, ContentType: contentType, Size: size,
			CreateTime: types.CurrentTimestamp(), Creator: s.Identity.ID,
		}
		a.Path = "responses/" + response.ID.String() + "/" + a.ID.String()

		if err := s3.PutObjectFunc(a.Path, content, s); err != nil {
			return err
		}
		if err := tx.Create(&a).Error; err != nil {
			return err
		}
		record = &a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func DownloadAttachment(id types.ID, s *session.Session) (*ResponseAttachment, io.ReadCloser, error) {
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)

	var a ResponseAttachment
	if err := db.Where(&ResponseAttachment{ID: id}).First(&a).Error; err != nil {
		return nil, nil, err
	}
	var response TaskResponse
	if err := db.Where(&TaskResponse{ID: a.ResponseID}).First(&response).Error; err != nil {
		return nil, nil, err
	}
	var e FormExecution
	if err := db.Where(&FormExecution{ID: response.ExecutionID}).First(&e).Error; err != nil {
		return nil, nil, err
	}
	if !s.Perms.HasPlantViewPerm(e.PlantID) {
		return nil, nil, bizerror.ErrForbidden
	}

	r, err := s3.GetObjectFunc(a.Path, s)
	if err != nil {
		return nil, nil, err
	}
	return &a, r, nil
}
