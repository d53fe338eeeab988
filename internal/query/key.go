package query

// Key はキャッシュエントリの識別子。
// 一覧はIDが空、単一レコードは(リソース名, ID)で表す。
// 無効化はResource単位で行う。
type Key struct {
	Resource string
	ID       string
}

// ListKey は一覧取得のキーを返す。
func ListKey(resource string) Key {
	return Key{Resource: resource}
}

// ItemKey は単一レコード取得のキーを返す。
func ItemKey(resource, id string) Key {
	return Key{Resource: resource, ID: id}
}

func (k Key) String() string {
	if k.ID == "" {
		return k.Resource
	}
	return k.Resource + "/" + k.ID
}
