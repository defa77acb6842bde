// Package location holds the city and district reference data offered by
// the lead form: every city and county of Taiwan with its districts and
// townships.
package location

// City is a selectable city with the districts that belong to it.
type City struct {
	Name      string   `json:"name"`
	Districts []string `json:"districts"`
}

var cities = []City{
	{Name: "Taipei", Districts: []string{
		"Zhongzheng", "Datong", "Zhongshan", "Songshan", "Da'an", "Wanhua",
		"Xinyi", "Shilin", "Beitou", "Neihu", "Nangang", "Wenshan",
	}},
	{Name: "New Taipei", Districts: []string{
		"Banqiao", "Sanchong", "Zhonghe", "Yonghe", "Xinzhuang", "Xindian",
		"Tucheng", "Luzhou", "Xizhi", "Shulin", "Yingge", "Sanxia", "Tamsui",
		"Ruifang", "Wugu", "Taishan", "Linkou", "Shenkeng", "Shiding", "Pinglin",
		"Sanzhi", "Shimen", "Bali", "Pingxi", "Shuangxi", "Gongliao", "Jinshan",
		"Wanli", "Wulai",
	}},
	{Name: "Keelung", Districts: []string{
		"Ren'ai", "Xinyi", "Zhongzheng", "Zhongshan", "Anle", "Nuannuan", "Qidu",
	}},
	{Name: "Taoyuan", Districts: []string{
		"Taoyuan", "Zhongli", "Pingzhen", "Bade", "Yangmei", "Luzhu", "Guishan",
		"Dayuan", "Daxi", "Longtan", "Guanyin", "Xinwu", "Fuxing",
	}},
	{Name: "Hsinchu City", Districts: []string{
		"East", "North", "Xiangshan",
	}},
	{Name: "Hsinchu County", Districts: []string{
		"Zhubei", "Zhudong", "Xinpu", "Guanxi", "Hukou", "Xinfeng", "Qionglin",
		"Hengshan", "Beipu", "Baoshan", "Emei", "Jianshi", "Wufeng",
	}},
	{Name: "Miaoli County", Districts: []string{
		"Miaoli", "Yuanli", "Tongxiao", "Zhunan", "Toufen", "Houlong", "Zhuolan",
		"Dahu", "Gongguan", "Tongluo", "Nanzhuang", "Touwu", "Sanyi", "Xihu",
		"Zaoqiao", "Sanwan", "Shitan", "Tai'an",
	}},
	{Name: "Taichung", Districts: []string{
		"Central", "East", "South", "West", "North", "Beitun", "Xitun", "Nantun",
		"Taiping", "Dali", "Wufeng", "Wuri", "Fengyuan", "Houli", "Shigang",
		"Dongshi", "Heping", "Xinshe", "Tanzi", "Daya", "Shengang", "Dadu",
		"Shalu", "Longjing", "Wuqi", "Qingshui", "Dajia", "Waipu", "Da'an",
	}},
	{Name: "Changhua County", Districts: []string{
		"Changhua", "Lukang", "Hemei", "Xianxi", "Shengang", "Fuxing", "Xiushui",
		"Huatan", "Fenyuan", "Yuanlin", "Xihu", "Tianzhong", "Dacun", "Puyan",
		"Puxin", "Yongjing", "Shetou", "Ershui", "Beidou", "Erlin", "Tianwei",
		"Pitou", "Fangyuan", "Dacheng", "Zhutang", "Xizhou",
	}},
	{Name: "Nantou County", Districts: []string{
		"Nantou", "Puli", "Caotun", "Zhushan", "Jiji", "Mingjian", "Lugu",
		"Zhongliao", "Yuchi", "Guoxing", "Shuili", "Xinyi", "Ren'ai",
	}},
	{Name: "Yunlin County", Districts: []string{
		"Douliu", "Dounan", "Huwei", "Xiluo", "Tuku", "Beigang", "Gukeng", "Dapi",
		"Citong", "Linnei", "Erlun", "Lunbei", "Mailiao", "Dongshi", "Baozhong",
		"Taixi", "Yuanchang", "Sihu", "Kouhu", "Shuilin",
	}},
	{Name: "Chiayi City", Districts: []string{
		"East", "West",
	}},
	{Name: "Chiayi County", Districts: []string{
		"Taibao", "Puzi", "Budai", "Dalin", "Minxiong", "Xikou", "Xingang",
		"Liujiao", "Dongshi", "Yizhu", "Lucao", "Shuishang", "Zhongpu", "Zhuqi",
		"Meishan", "Fanlu", "Dapu", "Alishan",
	}},
	{Name: "Tainan", Districts: []string{
		"West Central", "East", "South", "North", "Anping", "Annan", "Yongkang",
		"Guiren", "Xinhua", "Zuozhen", "Yujing", "Nanxi", "Nanhua", "Rende",
		"Guanmiao", "Longqi", "Guantian", "Madou", "Jiali", "Xigang", "Qigu",
		"Jiangjun", "Xuejia", "Beimen", "Xinying", "Houbi", "Baihe", "Dongshan",
		"Liujia", "Xiaying", "Liuying", "Yanshui", "Shanhua", "Danei", "Shanshang",
		"Xinshi", "Anding",
	}},
	{Name: "Kaohsiung", Districts: []string{
		"Xinxing", "Qianjin", "Lingya", "Yancheng", "Gushan", "Qijin", "Qianzhen",
		"Sanmin", "Nanzi", "Xiaogang", "Zuoying", "Renwu", "Dashe", "Gangshan",
		"Luzhu", "Alian", "Tianliao", "Yanchao", "Qiaotou", "Ziguan", "Mituo",
		"Yong'an", "Hunei", "Fengshan", "Daliao", "Linyuan", "Niaosong", "Dashu",
		"Qishan", "Meinong", "Liugui", "Neimen", "Shanlin", "Jiaxian", "Taoyuan",
		"Namaxia", "Maolin", "Qieding",
	}},
	{Name: "Pingtung County", Districts: []string{
		"Pingtung", "Sandimen", "Wutai", "Majia", "Jiuru", "Ligang", "Gaoshu",
		"Yanpu", "Changzhi", "Linluo", "Zhutian", "Neipu", "Wandan", "Chaozhou",
		"Taiwu", "Laiyi", "Wanluan", "Kanding", "Xinpi", "Nanzhou", "Linbian",
		"Donggang", "Liuqiu", "Jiadong", "Xinyuan", "Fangliao", "Fangshan",
		"Chunri", "Shizi", "Checheng", "Mudan", "Hengchun", "Manzhou",
	}},
	{Name: "Yilan County", Districts: []string{
		"Yilan", "Toucheng", "Jiaoxi", "Zhuangwei", "Yuanshan", "Luodong",
		"Sanxing", "Datong", "Wujie", "Dongshan", "Su'ao", "Nan'ao",
	}},
	{Name: "Hualien County", Districts: []string{
		"Hualien", "Xincheng", "Xiulin", "Ji'an", "Shoufeng", "Fenglin", "Guangfu",
		"Fengbin", "Ruisui", "Wanrong", "Yuli", "Zhuoxi", "Fuli",
	}},
	{Name: "Taitung County", Districts: []string{
		"Taitung", "Chenggong", "Guanshan", "Beinan", "Dawu", "Taimali", "Donghe",
		"Changbin", "Luye", "Chishang", "Ludao", "Yanping", "Haiduan", "Daren",
		"Jinfeng", "Lanyu",
	}},
	{Name: "Penghu County", Districts: []string{
		"Magong", "Huxi", "Baisha", "Xiyu", "Wang'an", "Qimei",
	}},
	{Name: "Kinmen County", Districts: []string{
		"Jincheng", "Jinhu", "Jinsha", "Jinning", "Lieyu", "Wuqiu",
	}},
	{Name: "Lienchiang County", Districts: []string{
		"Nangan", "Beigan", "Juguang", "Dongyin",
	}},
}

var index = buildIndex(cities)

func buildIndex(cs []City) map[string]map[string]struct{} {
	idx := make(map[string]map[string]struct{}, len(cs))
	for _, c := range cs {
		ds := make(map[string]struct{}, len(c.Districts))
		for _, d := range c.Districts {
			ds[d] = struct{}{}
		}
		idx[c.Name] = ds
	}
	return idx
}

// Cities returns a copy of the reference table.
func Cities() []City {
	out := make([]City, len(cities))
	for i, c := range cities {
		out[i] = City{Name: c.Name, Districts: append([]string(nil), c.Districts...)}
	}
	return out
}

// Districts returns the districts of city, or nil for an unknown city.
func Districts(city string) []string {
	for _, c := range cities {
		if c.Name == city {
			return append([]string(nil), c.Districts...)
		}
	}
	return nil
}

func HasCity(city string) bool {
	_, ok := index[city]
	return ok
}

// Valid reports whether the pair can be stored. Both sides may be empty and
// a city may come without a district. A district is only valid inside the
// city it was picked from; names shared by several cities are not told apart.
func Valid(city, district string) bool {
	if city == "" {
		return district == ""
	}
	ds, ok := index[city]
	if !ok {
		return false
	}
	if district == "" {
		return true
	}
	_, ok = ds[district]
	return ok
}
