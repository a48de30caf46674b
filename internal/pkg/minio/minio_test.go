package minio

import (
	"context"
	"strings"
	"testing"
)

func TestObjectKeyForKeepsExtension(t *testing.T) {
	key := ObjectKeyFor("Photo.JPG")
	if !strings.HasSuffix(key, ".jpg") {
		t.Errorf("key = %q, 扩展名应转小写保留", key)
	}
	if !strings.HasPrefix(key, "im/") {
		t.Errorf("key = %q, 应落在 im/ 目录下", key)
	}
	if key == ObjectKeyFor("Photo.JPG") {
		t.Errorf("对象键必须唯一")
	}

	bare := ObjectKeyFor("noext")
	if strings.HasSuffix(bare, ".") {
		t.Errorf("key = %q, 无扩展名时不应留尾点", bare)
	}
}

func TestPresignWithDisabledClient(t *testing.T) {
	if u, err := PresignURL(context.Background(), "k"); err != nil || u != "" {
		t.Errorf("PresignURL = (%q, %v), 未启用时应返回空", u, err)
	}
	if u, err := PresignPutURL(context.Background(), "k"); err != nil || u != "" {
		t.Errorf("PresignPutURL = (%q, %v), 未启用时应返回空", u, err)
	}
}
